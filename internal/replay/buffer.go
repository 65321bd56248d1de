package replay

import (
	"math"
	"math/rand/v2"
	"sort"
)

// #region buffer

// PrioritizedBuffer is a fixed-capacity ring of shaped transitions with
// priority-weighted sampling. Insertion beyond capacity overwrites the oldest
// slot; eviction is purely by insertion order, never by priority. Not safe
// for concurrent use: the orchestrator is the single writer.
type PrioritizedBuffer struct {
	cfg         BufferConfig
	entries     []ShapedTransition
	priorities  []float64
	next        int // ring cursor, slot of the next insertion
	size        int
	maxPriority float64
	rng         *rand.Rand
}

// NewPrioritizedBuffer creates a buffer with the given configuration.
// Invalid fields are clamped rather than rejected.
func NewPrioritizedBuffer(cfg BufferConfig, seed int64) *PrioritizedBuffer {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.Eps <= 0 {
		cfg.Eps = DefaultBufferConfig().Eps
	}
	if cfg.Alpha < 0 {
		cfg.Alpha = 0
	}
	if cfg.Beta < 0 {
		cfg.Beta = 0
	}
	if cfg.Beta > 1 {
		cfg.Beta = 1
	}
	return &PrioritizedBuffer{
		cfg:         cfg,
		entries:     make([]ShapedTransition, cfg.Capacity),
		priorities:  make([]float64, cfg.Capacity),
		maxPriority: cfg.Eps,
		rng:         rand.New(rand.NewPCG(uint64(seed), uint64(seed)+1)),
	}
}

// Len returns the number of stored transitions.
func (b *PrioritizedBuffer) Len() int {
	return b.size
}

// Capacity returns the current maximum number of transitions.
func (b *PrioritizedBuffer) Capacity() int {
	return b.cfg.Capacity
}

// Beta returns the current importance-sampling exponent.
func (b *PrioritizedBuffer) Beta() float64 {
	return b.cfg.Beta
}

// SetBeta updates the importance-sampling exponent, clamped to [0, 1].
// Used on resume to pick up annealing where a previous run left it.
func (b *PrioritizedBuffer) SetBeta(beta float64) {
	if beta < 0 {
		beta = 0
	}
	if beta > 1 {
		beta = 1
	}
	b.cfg.Beta = beta
}

// SetAlpha updates the prioritization exponent, clamped to [0, 2].
func (b *PrioritizedBuffer) SetAlpha(alpha float64) {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 2 {
		alpha = 2
	}
	b.cfg.Alpha = alpha
}

// #endregion buffer

// #region push

// Push inserts a transition, overwriting the oldest slot once the buffer is
// full. The new slot receives the running maximum priority so it is sampled
// at least once before its true TD error is known.
func (b *PrioritizedBuffer) Push(entry ShapedTransition) {
	if entry.SampleWeight == 0 {
		entry.SampleWeight = 1
	}
	b.entries[b.next] = entry
	b.priorities[b.next] = b.maxPriority
	b.next = (b.next + 1) % b.cfg.Capacity
	if b.size < b.cfg.Capacity {
		b.size++
	}
}

// #endregion push

// #region sample

// Sample draws batchSize transitions with probability proportional to
// priority^alpha and returns them with importance weights normalized so the
// maximum weight in the current buffer is 1. Beta is annealed toward 1 on
// every call. Returns an empty Sample when the buffer holds no entries.
func (b *PrioritizedBuffer) Sample(batchSize int) Sample {
	if b.size == 0 || batchSize < 1 {
		return Sample{}
	}

	scaled := make([]float64, b.size)
	cumulative := make([]float64, b.size)
	total := 0.0
	minScaled := math.Inf(1)
	for i := 0; i < b.size; i++ {
		s := math.Pow(b.priorities[i], b.cfg.Alpha)
		scaled[i] = s
		total += s
		cumulative[i] = total
		if s < minScaled {
			minScaled = s
		}
	}
	if total <= 0 {
		return Sample{}
	}

	beta := b.cfg.Beta
	n := float64(b.size)
	// The rarest slot carries the largest weight; dividing by it bounds
	// every weight at 1.
	maxWeight := math.Pow(n*minScaled/total, -beta)

	out := Sample{
		Batch:   make([]ShapedTransition, batchSize),
		Indices: make([]int, batchSize),
		Weights: make([]float64, batchSize),
	}
	for k := 0; k < batchSize; k++ {
		draw := b.rng.Float64() * total
		// First index whose cumulative sum reaches the draw.
		idx := sort.SearchFloat64s(cumulative, draw)
		if idx >= b.size {
			idx = b.size - 1
		}
		entry := b.entries[idx]
		weight := math.Pow(n*scaled[idx]/total, -beta) / maxWeight
		entry.SampleWeight = weight

		out.Batch[k] = entry
		out.Indices[k] = idx
		out.Weights[k] = weight
	}

	b.cfg.Beta = math.Min(1, b.cfg.Beta+b.cfg.BetaInc)
	return out
}

// #endregion sample

// #region update-priorities

// UpdatePriorities sets the priority of previously drawn slots to the
// absolute TD error (floored at eps). Indices that wrapped out of range since
// sampling are skipped; applying a priority to a since-overwritten slot is an
// accepted bounded staleness, not an error.
func (b *PrioritizedBuffer) UpdatePriorities(indices []int, tdErrors []float64) {
	for i, idx := range indices {
		if i >= len(tdErrors) {
			break
		}
		if idx < 0 || idx >= b.size {
			continue
		}
		p := math.Abs(tdErrors[i])
		if p < b.cfg.Eps {
			p = b.cfg.Eps
		}
		b.priorities[idx] = p
		if p > b.maxPriority {
			b.maxPriority = p
		}
	}
}

// #endregion update-priorities

// #region drop-oldest

// DropOldest removes the oldest fraction of stored transitions and resets
// every remaining priority to the floor: after a curriculum or task change
// the retained transitions may no longer be representative.
func (b *PrioritizedBuffer) DropOldest(fraction float64) {
	if fraction <= 0 || b.size == 0 {
		return
	}
	if fraction > 1 {
		fraction = 1
	}
	drop := int(fraction * float64(b.size))
	if drop == 0 {
		return
	}

	kept := b.inOrder()[drop:]
	b.reset(kept, b.cfg.Capacity)
}

// SetCapacity resizes the buffer. Shrinking retains only the most recent
// entries; order is preserved. Priorities reset to the floor. Non-positive
// capacities clamp to 1.
func (b *PrioritizedBuffer) SetCapacity(newCap int) {
	if newCap < 1 {
		newCap = 1
	}
	if newCap == b.cfg.Capacity {
		return
	}
	kept := b.inOrder()
	if len(kept) > newCap {
		kept = kept[len(kept)-newCap:]
	}
	b.reset(kept, newCap)
}

// inOrder returns the stored transitions from oldest to newest.
func (b *PrioritizedBuffer) inOrder() []ShapedTransition {
	out := make([]ShapedTransition, b.size)
	start := (b.next - b.size + b.cfg.Capacity) % b.cfg.Capacity
	for i := 0; i < b.size; i++ {
		out[i] = b.entries[(start+i)%b.cfg.Capacity]
	}
	return out
}

// reset rebuilds the ring from the given entries with floor priorities.
func (b *PrioritizedBuffer) reset(kept []ShapedTransition, capacity int) {
	b.cfg.Capacity = capacity
	b.entries = make([]ShapedTransition, capacity)
	b.priorities = make([]float64, capacity)
	copy(b.entries, kept)
	for i := range kept {
		b.priorities[i] = b.cfg.Eps
	}
	b.size = len(kept)
	b.next = b.size % capacity
	b.maxPriority = b.cfg.Eps
}

// #endregion drop-oldest
