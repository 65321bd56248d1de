package replay

import "math"

// #region accumulator

// ReturnAccumulator buffers raw one-step transitions for one environment and
// folds them into n-step or lambda-blended returns. One accumulator per
// parallel environment; not safe for concurrent use.
type ReturnAccumulator struct {
	cfg   AccumulatorConfig
	queue []Transition
}

// NewReturnAccumulator creates an accumulator with the given configuration.
func NewReturnAccumulator(cfg AccumulatorConfig) *ReturnAccumulator {
	return &ReturnAccumulator{cfg: cfg.normalized()}
}

// Config returns the active configuration.
func (a *ReturnAccumulator) Config() AccumulatorConfig {
	return a.cfg
}

// Pending returns the number of unresolved raw transitions.
func (a *ReturnAccumulator) Pending() int {
	return len(a.queue)
}

// Reconfigure updates horizon, discount, and blend. Takes effect on the next
// push; already-queued transitions resolve under the new parameters too.
func (a *ReturnAccumulator) Reconfigure(cfg AccumulatorConfig) {
	a.cfg = cfg.normalized()
}

// #endregion accumulator

// #region push

// Push appends a raw transition and returns every return that became fully
// resolvable. A terminal push flushes all pending partials, producing
// fewer-than-n-step returns for the episode tail.
func (a *ReturnAccumulator) Push(t Transition) []ShapedTransition {
	a.queue = append(a.queue, t)
	if t.Done {
		return a.Flush()
	}

	var out []ShapedTransition
	for len(a.queue) >= a.cfg.Horizon {
		st, terminal := a.resolve(a.cfg.Horizon)
		out = append(out, st)
		if terminal {
			a.queue = a.queue[:0]
			return out
		}
		a.queue = a.queue[1:]
	}
	return out
}

// Flush drains the queue, resolving each remaining head over whatever steps
// are left. Used at episode end and on explicit reconfiguration.
func (a *ReturnAccumulator) Flush() []ShapedTransition {
	var out []ShapedTransition
	for len(a.queue) > 0 {
		limit := a.cfg.Horizon
		if len(a.queue) < limit {
			limit = len(a.queue)
		}
		st, _ := a.resolve(limit)
		out = append(out, st)
		a.queue = a.queue[1:]
	}
	return out
}

// #endregion push

// #region resolve

// resolve folds up to limit queued steps from the front into one shaped
// return, stopping early at a terminal step. Lambda blends partial returns at
// depth 1..k with weight (1-λ)·λ^(i-1) for all but the deepest and λ^(k-1)
// for the deepest, so the weights sum to 1. λ=1 is pure n-step; λ=0 resolves
// at depth 1 so TD(0) is exact regardless of the horizon.
func (a *ReturnAccumulator) resolve(limit int) (ShapedTransition, bool) {
	if a.cfg.Lambda == 0 {
		limit = 1
	}

	partials := make([]float64, 0, limit)
	ret := 0.0
	g := 1.0
	depth := 0
	for i := 0; i < limit && i < len(a.queue); i++ {
		ret += g * a.queue[i].Reward
		g *= a.cfg.Gamma
		partials = append(partials, ret)
		depth = i + 1
		if a.queue[i].Done {
			break
		}
	}

	blended := partials[depth-1]
	if a.cfg.Lambda < 1 && depth > 1 {
		blended = 0
		w := 1 - a.cfg.Lambda
		for i := 0; i < depth-1; i++ {
			blended += w * partials[i]
			w *= a.cfg.Lambda
		}
		blended += math.Pow(a.cfg.Lambda, float64(depth-1)) * partials[depth-1]
	}

	head := a.queue[0]
	tail := a.queue[depth-1]
	discount := math.Pow(a.cfg.Gamma, float64(depth))
	if tail.Done {
		discount = 0
	}
	return ShapedTransition{
		Transition: Transition{
			State:     head.State,
			Action:    head.Action,
			Reward:    blended,
			NextState: tail.NextState,
			Done:      tail.Done,
		},
		Discount:     discount,
		SampleWeight: 1,
	}, tail.Done
}

// #endregion resolve
