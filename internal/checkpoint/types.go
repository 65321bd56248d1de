package checkpoint

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/config"
)

// ErrNotFound reports that no checkpoint exists at the requested pointer.
var ErrNotFound = errors.New("checkpoint: not found")

// documentVersion tags the on-disk layout so later readers can migrate.
const documentVersion = 1

// Reason records why a checkpoint was taken.
type Reason string

const (
	ReasonPeriodic    Reason = "periodic"
	ReasonBoardChange Reason = "board_change"
	ReasonBestEval    Reason = "best_eval"
	ReasonFinal       Reason = "final"
)

// #region document

// Meta is the run bookkeeping snapshot stored next to the learner state.
type Meta struct {
	RunID     string             `json:"run_id"`
	Episode   int                `json:"episode"`
	Step      int64              `json:"step"`
	BoardSize int                `json:"board_size"`
	Stage     int                `json:"stage"`
	Hyper     map[string]float64 `json:"hyper,omitempty"`
}

// Document is the durable checkpoint layout. Written once, never mutated;
// retention deletes superseded documents rather than editing them.
type Document struct {
	CreatedAt    time.Time           `json:"createdAt"`
	Version      int                 `json:"version"`
	Agent        json.RawMessage     `json:"agent"`
	RewardConfig config.RewardConfig `json:"rewardConfig"`
	Meta         Meta                `json:"meta"`
	Reason       Reason              `json:"reason"`
}

// SaveRequest is one checkpoint to persist. Agent is the learner's exported
// state, treated as an opaque blob.
type SaveRequest struct {
	Agent   json.RawMessage
	Rewards config.RewardConfig
	Meta    Meta
	IsBest  bool
	Reason  Reason
}

// #endregion document
