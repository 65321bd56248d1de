package config

import "fmt"

// #region trainer-config

// TrainerConfig is the full tuning surface consumed by the orchestrator.
// Values are clamped rather than rejected: the scheduler rewrites many of
// them mid-run and a bad value must never halt a multi-day training job.
type TrainerConfig struct {
	// Replay buffer
	BufferCapacity    int
	PriorityAlpha     float64
	PriorityBeta      float64
	PriorityBetaInc   float64
	PriorityEps       float64
	BatchSize         int

	// Multi-step returns
	Horizon int
	Gamma   float64
	Lambda  float64

	// Exploration schedule
	EpsilonStart float64
	EpsilonEnd   float64
	EpsilonDecay float64

	// Learning rate (cosine cycle, scaled by the scheduler)
	LRBase  float64
	LRMin   float64
	LRMax   float64
	LRCycle int

	// Run shape
	Envs        int
	MaxEpisodes int
	TrainEvery  int

	// Evaluation
	EvalInterval int
	EvalEpisodes int

	// Persistence
	CheckpointInterval   int
	GuardCooldownMinutes int
	CheckpointRetention  int
	LogRetention         int
	CheckpointBudgetMB   int64
	LogBudgetMB          int64
	LogSizeThresholdMB   int64
	CheckpointDir        string
	LogPath              string
	HistoryPath          string

	// External learner service
	LearnerURL string

	Seed int64
}

// DefaultTrainerConfig returns the defaults used for an unattended run.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		BufferCapacity:  50000,
		PriorityAlpha:   0.6,
		PriorityBeta:    0.4,
		PriorityBetaInc: 1e-4,
		PriorityEps:     1e-3,
		BatchSize:       64,

		Horizon: 3,
		Gamma:   0.95,
		Lambda:  1.0,

		EpsilonStart: 1.0,
		EpsilonEnd:   0.02,
		EpsilonDecay: 2000,

		LRBase:  1e-3,
		LRMin:   1e-5,
		LRMax:   5e-3,
		LRCycle: 2000,

		Envs:        1,
		MaxEpisodes: 100000,
		TrainEvery:  4,

		EvalInterval: 250,
		EvalEpisodes: 5,

		CheckpointInterval:   500,
		GuardCooldownMinutes: 5,
		CheckpointRetention:  10,
		LogRetention:         5,
		CheckpointBudgetMB:   512,
		LogBudgetMB:          128,
		LogSizeThresholdMB:   32,
		CheckpointDir:        "checkpoints",
		LogPath:              "logs/train.ndjson",
		HistoryPath:          "history.db",

		LearnerURL: "http://localhost:8765",
	}
}

// Normalized clamps every field to its nearest valid value.
func (c TrainerConfig) Normalized() TrainerConfig {
	d := DefaultTrainerConfig()

	c.BufferCapacity = clampInt(c.BufferCapacity, 1, 1<<24)
	c.PriorityAlpha = clampFloat(c.PriorityAlpha, 0, 2)
	c.PriorityBeta = clampFloat(c.PriorityBeta, 0, 1)
	c.PriorityBetaInc = clampFloat(c.PriorityBetaInc, 0, 1)
	if c.PriorityEps <= 0 {
		c.PriorityEps = d.PriorityEps
	}
	c.BatchSize = clampInt(c.BatchSize, 1, c.BufferCapacity)

	c.Horizon = clampInt(c.Horizon, 1, 64)
	c.Gamma = clampFloat(c.Gamma, 0.01, 1)
	c.Lambda = clampFloat(c.Lambda, 0, 1)

	c.EpsilonStart = clampFloat(c.EpsilonStart, 0, 1)
	c.EpsilonEnd = clampFloat(c.EpsilonEnd, 0, c.EpsilonStart)
	if c.EpsilonDecay <= 0 {
		c.EpsilonDecay = d.EpsilonDecay
	}

	if c.LRMin <= 0 {
		c.LRMin = d.LRMin
	}
	if c.LRMax < c.LRMin {
		c.LRMax = c.LRMin
	}
	c.LRBase = clampFloat(c.LRBase, c.LRMin, c.LRMax)
	c.LRCycle = clampInt(c.LRCycle, 1, 1<<20)

	c.Envs = clampInt(c.Envs, 1, 64)
	c.MaxEpisodes = clampInt(c.MaxEpisodes, 1, 1<<31-1)
	c.TrainEvery = clampInt(c.TrainEvery, 1, 1<<16)

	c.EvalInterval = clampInt(c.EvalInterval, 1, 1<<20)
	c.EvalEpisodes = clampInt(c.EvalEpisodes, 1, 100)

	c.CheckpointInterval = clampInt(c.CheckpointInterval, 1, 1<<20)
	c.GuardCooldownMinutes = clampInt(c.GuardCooldownMinutes, 0, 24*60)
	c.CheckpointRetention = clampInt(c.CheckpointRetention, 1, 1000)
	c.LogRetention = clampInt(c.LogRetention, 1, 1000)
	c.CheckpointBudgetMB = clampInt64(c.CheckpointBudgetMB, 1, 1<<20)
	c.LogBudgetMB = clampInt64(c.LogBudgetMB, 1, 1<<20)
	c.LogSizeThresholdMB = clampInt64(c.LogSizeThresholdMB, 1, 1<<20)

	if c.CheckpointDir == "" {
		c.CheckpointDir = d.CheckpointDir
	}
	if c.LogPath == "" {
		c.LogPath = d.LogPath
	}
	if c.HistoryPath == "" {
		c.HistoryPath = d.HistoryPath
	}
	if c.LearnerURL == "" {
		c.LearnerURL = d.LearnerURL
	}
	return c
}

// #endregion trainer-config

// #region reward-config

// RewardConfig holds the shaped reward terms applied by the environment.
// Penalties are negative, rewards positive. The base constants match the
// original Snake-ML scoring (fruit +10, step -1, wall -10, self -10).
type RewardConfig struct {
	FruitReward    float64 `json:"fruit_reward"`
	StepPenalty    float64 `json:"step_penalty"`
	WallPenalty    float64 `json:"wall_penalty"`
	SelfPenalty    float64 `json:"self_penalty"`
	StarvePenalty  float64 `json:"starve_penalty"`
	LoopPenalty    float64 `json:"loop_penalty"`
	RevisitPenalty float64 `json:"revisit_penalty"`
	TurnPenalty    float64 `json:"turn_penalty"`
	ApproachReward float64 `json:"approach_reward"`
	RetreatPenalty float64 `json:"retreat_penalty"`
}

// DefaultRewardConfig returns the base Snake-ML reward scheme.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		FruitReward:    10,
		StepPenalty:    -1,
		WallPenalty:    -10,
		SelfPenalty:    -10,
		StarvePenalty:  -5,
		LoopPenalty:    -2,
		RevisitPenalty: -0.5,
		TurnPenalty:    -0.1,
		ApproachReward: 0.3,
		RetreatPenalty: -0.3,
	}
}

// Merge applies named overrides on top of rc. Unknown keys are rejected so a
// typo in a tuning file cannot silently become a no-op.
func (rc RewardConfig) Merge(overrides map[string]float64) (RewardConfig, error) {
	for key, v := range overrides {
		switch key {
		case "fruit_reward":
			rc.FruitReward = v
		case "step_penalty":
			rc.StepPenalty = v
		case "wall_penalty":
			rc.WallPenalty = v
		case "self_penalty":
			rc.SelfPenalty = v
		case "starve_penalty":
			rc.StarvePenalty = v
		case "loop_penalty":
			rc.LoopPenalty = v
		case "revisit_penalty":
			rc.RevisitPenalty = v
		case "turn_penalty":
			rc.TurnPenalty = v
		case "approach_reward":
			rc.ApproachReward = v
		case "retreat_penalty":
			rc.RetreatPenalty = v
		default:
			return rc, fmt.Errorf("merge reward config: unknown key %q", key)
		}
	}
	return rc, nil
}

// #endregion reward-config

// #region helpers

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion helpers
