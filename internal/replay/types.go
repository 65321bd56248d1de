package replay

// #region transition

// Transition is one raw environment step.
type Transition struct {
	State     []float64 `json:"state"`
	Action    int       `json:"action"`
	Reward    float64   `json:"reward"`
	NextState []float64 `json:"next_state"`
	Done      bool      `json:"done"`
}

// ShapedTransition is a Transition whose reward has been replaced by an
// n-step or lambda-blended return. Discount is gamma^depth for bootstrapping
// (0 when the folded tail was terminal). SampleWeight is the importance
// weight applied at learning time, 1 by default.
type ShapedTransition struct {
	Transition
	Discount     float64 `json:"discount"`
	SampleWeight float64 `json:"sample_weight"`
}

// #endregion transition

// #region sample

// Sample bundles a drawn batch with the slot indices it came from and the
// normalized importance weights for each entry.
type Sample struct {
	Batch   []ShapedTransition
	Indices []int
	Weights []float64
}

// Empty reports whether the sample holds no transitions.
func (s Sample) Empty() bool {
	return len(s.Batch) == 0
}

// #endregion sample

// #region buffer-config

// BufferConfig holds prioritization parameters for a PrioritizedBuffer.
type BufferConfig struct {
	Capacity int
	Alpha    float64 // prioritization exponent; 0 = uniform sampling
	Beta     float64 // importance-sampling correction, anneals toward 1
	BetaInc  float64 // beta increment applied on every Sample call
	Eps      float64 // priority floor, must be > 0
}

// DefaultBufferConfig returns the standard prioritized replay parameters.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		Capacity: 50000,
		Alpha:    0.6,
		Beta:     0.4,
		BetaInc:  1e-4,
		Eps:      1e-3,
	}
}

// #endregion buffer-config

// #region accumulator-config

// AccumulatorConfig holds the multi-step return parameters.
type AccumulatorConfig struct {
	Horizon int     // n, number of steps folded into one return
	Gamma   float64 // discount
	Lambda  float64 // blend between 1-step (0) and pure n-step (1)
}

// DefaultAccumulatorConfig returns plain 3-step returns.
func DefaultAccumulatorConfig() AccumulatorConfig {
	return AccumulatorConfig{Horizon: 3, Gamma: 0.95, Lambda: 1.0}
}

// normalized clamps the configuration to valid ranges.
func (c AccumulatorConfig) normalized() AccumulatorConfig {
	if c.Horizon < 1 {
		c.Horizon = 1
	}
	if c.Gamma <= 0 {
		c.Gamma = 0.01
	}
	if c.Gamma > 1 {
		c.Gamma = 1
	}
	if c.Lambda < 0 {
		c.Lambda = 0
	}
	if c.Lambda > 1 {
		c.Lambda = 1
	}
	return c
}

// #endregion accumulator-config
