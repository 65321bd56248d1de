package snake

import "github.com/Nomarcus/Snake-ML/go-trainer/internal/metrics"

// Relative actions, so the policy never has to learn "reverse is illegal".
const (
	ActionStraight = 0
	ActionLeft     = 1
	ActionRight    = 2

	NumActions = 3
)

// StateSize is the length of the feature vector returned by State: three
// danger flags, four direction one-hots, four fruit-direction flags.
const StateSize = 11

// #region step-result
// StepResult is the outcome of one environment step.
type StepResult struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Done      bool
	Cause     metrics.TerminalCause
	AteFruit  bool
}
// #endregion step-result

// #region episode-stats
// EpisodeStats summarizes the episode in progress, reset by Reset.
type EpisodeStats struct {
	Reward         float64
	Fruits         int
	Steps          int
	Cause          metrics.TerminalCause
	LoopHits       int
	Revisits       int
	RevisitPenalty float64
	TimeToGoal     []int
}
// #endregion episode-stats

type point struct {
	x, y int
}

func (p point) add(q point) point {
	return point{p.x + q.x, p.y + q.y}
}

// Rotations in screen coordinates, y growing downward.
func (p point) turnLeft() point {
	return point{p.y, -p.x}
}

func (p point) turnRight() point {
	return point{-p.y, p.x}
}
