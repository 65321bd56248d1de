package learner

import (
	"context"
	"encoding/json"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/replay"
)

// #region contract

// TrainRequest is one sample-aware learning step: a prioritized batch, its
// importance weights, and the learning rate the schedule currently dictates.
type TrainRequest struct {
	Batch        []replay.ShapedTransition `json:"batch"`
	Weights      []float64                 `json:"weights"`
	LearningRate float64                   `json:"learning_rate"`
}

// TrainResult carries the scalar loss and the per-transition absolute
// TD-errors that feed priority updates.
type TrainResult struct {
	Loss     float64   `json:"loss"`
	TDErrors []float64 `json:"td_errors"`
}

// Learner is the external model process. The trainer owns experience,
// schedules, and persistence; the learner owns weights and action selection.
type Learner interface {
	TrainStep(ctx context.Context, req TrainRequest) (TrainResult, error)
	ActGreedy(ctx context.Context, state []float64) (int, error)
	ActExplore(ctx context.Context, state []float64, epsilon float64) (int, error)
	ExportState(ctx context.Context) (json.RawMessage, error)
	ImportState(ctx context.Context, blob json.RawMessage) error
}

// #endregion contract
