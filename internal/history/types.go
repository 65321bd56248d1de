package history

import "time"

// #region run-record
// RunRecord is one training run's row in the runs table.
type RunRecord struct {
	RunID        string
	StartedAt    time.Time
	ConfigJSON   string
	FinishedAt   time.Time
	FinalEpisode int
	Finished     bool
}
// #endregion run-record

// #region episode-row
// EpisodeRow is the per-episode telemetry persisted for later inspection.
type EpisodeRow struct {
	RunID     string
	Episode   int
	Reward    float64
	Fruits    int
	Length    int
	Cause     string
	BoardSize int
	Epsilon   float64
	LR        float64
	CreatedAt time.Time
}
// #endregion episode-row

// #region adjustment-row
// AdjustmentRow records one scheduler parameter change, the run's decision
// log.
type AdjustmentRow struct {
	RunID     string
	Episode   int
	Rule      string
	Parameter string
	OldValue  float64
	NewValue  float64
	Reason    string
	CreatedAt time.Time
}
// #endregion adjustment-row

// #region evaluation-row
// EvaluationRow records one exploration-free evaluation pass.
type EvaluationRow struct {
	RunID     string
	Episode   int
	Score     float64
	IsBest    bool
	CreatedAt time.Time
}
// #endregion evaluation-row
