package snake

import (
	"math/rand/v2"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/config"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/metrics"
)

const (
	startLength = 3

	// Loop detection: a head cell seen this many times within the recent
	// window counts as a loop hit.
	loopWindow    = 24
	loopThreshold = 3
)

var directions = []point{
	{0, -1}, // up
	{0, 1},  // down
	{-1, 0}, // left
	{1, 0},  // right
}

// #region env

// Env is a headless Snake board. Purely single-threaded, owned by one
// orchestrator worker slot; rewards are live-tunable between episodes.
type Env struct {
	size    int
	rewards config.RewardConfig
	rng     *rand.Rand

	snake []point // head first
	dir   point
	fruit point
	done  bool

	stepsSinceFruit int
	visited         map[point]bool
	recentHeads     []point
	stats           EpisodeStats
}

// NewEnv creates a board of the given size. The seed fixes fruit placement.
func NewEnv(size int, rewards config.RewardConfig, seed uint64) *Env {
	e := &Env{
		rewards: rewards,
		rng:     rand.New(rand.NewPCG(seed, seed+1)),
	}
	e.Reset(size)
	return e
}

// SetRewards swaps the reward configuration. Takes effect on the next step,
// so it should be called between episodes.
func (e *Env) SetRewards(rc config.RewardConfig) {
	e.rewards = rc
}

// Stats returns the running summary of the current episode.
func (e *Env) Stats() EpisodeStats {
	return e.stats
}

// Done reports whether the current episode has terminated.
func (e *Env) Done() bool {
	return e.done
}

// Size returns the current board size.
func (e *Env) Size() int {
	return e.size
}

// #endregion env

// #region reset

// Reset starts a fresh episode on a board of the given size. Size changes
// mid-run come from curriculum advances.
func (e *Env) Reset(size int) []float64 {
	if size < 5 {
		size = 5
	}
	e.size = size
	mid := size / 2
	e.snake = e.snake[:0]
	for i := 0; i < startLength; i++ {
		e.snake = append(e.snake, point{mid - i, mid})
	}
	e.dir = point{1, 0}
	e.done = false
	e.stepsSinceFruit = 0
	e.visited = map[point]bool{}
	e.recentHeads = e.recentHeads[:0]
	e.stats = EpisodeStats{}
	e.spawnFruit()
	return e.State()
}

func (e *Env) spawnFruit() {
	free := make([]point, 0, e.size*e.size)
	for x := 0; x < e.size; x++ {
		for y := 0; y < e.size; y++ {
			p := point{x, y}
			if !e.occupied(p) {
				free = append(free, p)
			}
		}
	}
	if len(free) == 0 {
		e.fruit = e.snake[0]
		return
	}
	e.fruit = free[e.rng.IntN(len(free))]
}

// #endregion reset

// #region step

// Step advances the episode by one action and returns the transition.
func (e *Env) Step(action int) StepResult {
	res := StepResult{State: e.State(), Action: action}

	switch action {
	case ActionLeft:
		e.dir = e.dir.turnLeft()
	case ActionRight:
		e.dir = e.dir.turnRight()
	}
	reward := e.rewards.StepPenalty
	if action != ActionStraight {
		reward += e.rewards.TurnPenalty
	}

	head := e.snake[0]
	next := head.add(e.dir)
	distBefore := e.manhattan(head, e.fruit)

	switch {
	case e.offBoard(next):
		reward += e.rewards.WallPenalty
		e.finish(metrics.TerminalWall)
	case e.hitsBody(next):
		reward += e.rewards.SelfPenalty
		e.finish(metrics.TerminalSelf)
	default:
		ate := next == e.fruit
		e.advance(next, ate)
		if ate {
			reward += e.rewards.FruitReward - e.rewards.StepPenalty
			res.AteFruit = true
			e.stats.Fruits++
			e.stats.TimeToGoal = append(e.stats.TimeToGoal, e.stepsSinceFruit+1)
			e.stepsSinceFruit = 0
			e.visited = map[point]bool{}
			e.spawnFruit()
		} else {
			reward += e.shaping(next, distBefore)
			e.stepsSinceFruit++
			if e.stepsSinceFruit > e.starvationLimit() {
				reward += e.rewards.StarvePenalty
				e.finish(metrics.TerminalStarved)
			}
		}
	}

	e.stats.Steps++
	e.stats.Reward += reward

	res.Reward = reward
	res.NextState = e.State()
	res.Done = e.done
	res.Cause = e.stats.Cause
	return res
}

// advance moves the head to next, keeping the tail when growing.
func (e *Env) advance(next point, grow bool) {
	e.snake = append([]point{next}, e.snake...)
	if !grow {
		e.snake = e.snake[:len(e.snake)-1]
	}
}

// shaping applies the distance, revisit, and loop shaping terms for a
// non-terminal, non-fruit step onto the new head cell.
func (e *Env) shaping(head point, distBefore int) float64 {
	reward := 0.0

	distAfter := e.manhattan(head, e.fruit)
	if distAfter < distBefore {
		reward += e.rewards.ApproachReward
	} else if distAfter > distBefore {
		reward += e.rewards.RetreatPenalty
	}

	if e.visited[head] {
		reward += e.rewards.RevisitPenalty
		e.stats.Revisits++
		e.stats.RevisitPenalty += e.rewards.RevisitPenalty
	}
	e.visited[head] = true

	seen := 0
	for _, p := range e.recentHeads {
		if p == head {
			seen++
		}
	}
	if seen >= loopThreshold-1 {
		reward += e.rewards.LoopPenalty
		e.stats.LoopHits++
	}
	e.recentHeads = append(e.recentHeads, head)
	if len(e.recentHeads) > loopWindow {
		e.recentHeads = e.recentHeads[1:]
	}

	return reward
}

func (e *Env) finish(cause metrics.TerminalCause) {
	e.done = true
	e.stats.Cause = cause
}

// starvationLimit is how many fruitless steps an episode survives. Scales
// with the board so larger boards get proportionally more slack.
func (e *Env) starvationLimit() int {
	return 2 * e.size * e.size
}

// #endregion step

// #region state

// State encodes the board as seen from the snake's head: danger
// straight/left/right, heading one-hot, and fruit direction flags.
func (e *Env) State() []float64 {
	head := e.snake[0]
	s := make([]float64, StateSize)

	for i, d := range []point{e.dir, e.dir.turnLeft(), e.dir.turnRight()} {
		cell := head.add(d)
		if e.offBoard(cell) || e.hitsBody(cell) {
			s[i] = 1
		}
	}
	for i, d := range directions {
		if e.dir == d {
			s[3+i] = 1
		}
	}
	if e.fruit.x < head.x {
		s[7] = 1
	}
	if e.fruit.x > head.x {
		s[8] = 1
	}
	if e.fruit.y < head.y {
		s[9] = 1
	}
	if e.fruit.y > head.y {
		s[10] = 1
	}
	return s
}

func (e *Env) offBoard(p point) bool {
	return p.x < 0 || p.y < 0 || p.x >= e.size || p.y >= e.size
}

// hitsBody ignores the tail tip, which vacates its cell on a non-growing
// move.
func (e *Env) hitsBody(p point) bool {
	for i, seg := range e.snake {
		if i == len(e.snake)-1 && p != e.fruit {
			break
		}
		if seg == p {
			return true
		}
	}
	return false
}

func (e *Env) occupied(p point) bool {
	for _, seg := range e.snake {
		if seg == p {
			return true
		}
	}
	return false
}

func (e *Env) manhattan(a, b point) int {
	dx := a.x - b.x
	if dx < 0 {
		dx = -dx
	}
	dy := a.y - b.y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// #endregion state
