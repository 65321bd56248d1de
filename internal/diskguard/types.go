package diskguard

import "time"

// #region diskguard-config

// Config bounds the on-disk footprint of a training run.
type Config struct {
	CheckpointDir string
	LogDir        string

	// KeepCheckpoints is the retention count for checkpoint directories,
	// not counting the latest/ and best/ pointers.
	KeepCheckpoints int
	// CheckpointBudgetMB caps the total size of retained checkpoint
	// directories. Oldest entries go first when over budget.
	CheckpointBudgetMB int64

	// LogMaxMB is the live-file size that triggers a rotation.
	LogMaxMB int64
	// KeepLogArchives is the retention count for numbered gzip archives.
	KeepLogArchives int
	// LogBudgetMB caps the total size of the archives.
	LogBudgetMB int64

	// MinInterval is the minimum wall-clock gap between guard cycles.
	// Calls arriving sooner are no-ops.
	MinInterval time.Duration
}

// DefaultConfig returns the retention limits used for unattended runs.
func DefaultConfig() Config {
	return Config{
		KeepCheckpoints:    10,
		CheckpointBudgetMB: 512,
		LogMaxMB:           64,
		KeepLogArchives:    5,
		LogBudgetMB:        256,
		MinInterval:        5 * time.Minute,
	}
}

// #endregion diskguard-config
