package orchestrator

import (
	"github.com/rs/zerolog"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/checkpoint"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/history"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/learner"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/trainlog"
)

// #region deps

// Deps wires the orchestrator to its collaborators. Learner is required;
// Checkpoints, History, and Trainlog may be nil, which disables persistence,
// provenance, and telemetry logging respectively.
type Deps struct {
	Learner     learner.Learner
	Checkpoints *checkpoint.Manager
	History     *history.Store
	Trainlog    *trainlog.Writer
	Logger      zerolog.Logger
}

// #endregion deps
