package scheduler

import (
	"time"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/config"
)

// #region stages

// Stage is one curriculum step: board size gated by a score threshold.
type Stage struct {
	BoardSize      int     `json:"board_size"`
	ScoreThreshold float64 `json:"score_threshold"`
}

// DefaultStages is the forward-only board-size curriculum. The threshold on a
// stage is the moving-average score required to advance INTO it.
func DefaultStages() []Stage {
	return []Stage{
		{BoardSize: 8, ScoreThreshold: 0},
		{BoardSize: 10, ScoreThreshold: 6},
		{BoardSize: 12, ScoreThreshold: 10},
		{BoardSize: 15, ScoreThreshold: 15},
		{BoardSize: 20, ScoreThreshold: 25},
	}
}

// #endregion stages

// #region scheduler-config

// Config holds the thresholds and step sizes for every adjustment rule.
type Config struct {
	CooldownEpisodes int // per-rule minimum gap between firings

	// Cosine learning-rate schedule
	LRBase  float64
	LRMin   float64
	LRMax   float64
	LRCycle int
	// Multiplicative lrScale steps
	LRShrink float64
	LRGrow   float64

	// Exploration schedule baseline
	EpsilonStart    float64
	EpsilonEnd      float64 // baseline floor
	EpsilonDecay    float64 // baseline decay horizon, in episodes
	EpsilonFloorMax float64 // cap for boosted floors

	// Rule thresholds
	StagnationThreshold float64 // improvement below this while slope <= 0 is stagnation
	ImprovementWindow   int     // moving-average samples fed to FruitImprovement

	HorizonMin     int
	HorizonMax     int
	TimeToGoalHigh float64
	TimeToGoalLow  float64

	GammaBase    float64
	GammaMax     float64
	GammaStep    float64
	SelfRateHigh float64

	AlphaMin    float64
	AlphaMax    float64
	AlphaStep   float64
	TDRatioHigh float64
	TDRatioLow  float64

	LoopHitRateHigh float64
	RevisitRateHigh float64
	RewardScaleMax  float64 // cap on shaped-term growth, as a multiple of baseline

	// Curriculum
	Stages       []Stage
	DropFraction float64 // buffer fraction dropped on stage advance

	// Best-eval tracking and rollback
	BestAbsMargin    float64
	BestRelMargin    float64
	RollbackFraction float64 // live MA below best*fraction counts as regression
	RollbackWindow   int     // consecutive episodes below before requesting rollback
}

// DefaultConfig returns the rule thresholds used for unattended runs.
func DefaultConfig() Config {
	return Config{
		CooldownEpisodes: 500,

		LRBase:   1e-3,
		LRMin:    1e-5,
		LRMax:    5e-3,
		LRCycle:  2000,
		LRShrink: 0.5,
		LRGrow:   1.5,

		EpsilonStart:    1.0,
		EpsilonEnd:      0.02,
		EpsilonDecay:    2000,
		EpsilonFloorMax: 0.25,

		StagnationThreshold: 0.1,
		ImprovementWindow:   100,

		HorizonMin:     1,
		HorizonMax:     10,
		TimeToGoalHigh: 60,
		TimeToGoalLow:  15,

		GammaBase:    0.95,
		GammaMax:     0.995,
		GammaStep:    0.01,
		SelfRateHigh: 0.35,

		AlphaMin:    0.2,
		AlphaMax:    1.0,
		AlphaStep:   0.1,
		TDRatioHigh: 8,
		TDRatioLow:  2,

		LoopHitRateHigh: 0.05,
		RevisitRateHigh: 0.15,
		RewardScaleMax:  4,

		Stages:       DefaultStages(),
		DropFraction: 0.5,

		BestAbsMargin:    0.5,
		BestRelMargin:    0.02,
		RollbackFraction: 0.5,
		RollbackWindow:   300,
	}
}

// #endregion scheduler-config

// #region scheduler-state

// BestEval records the best exploration-free evaluation seen so far.
type BestEval struct {
	Episode   int       `json:"episode"`
	Score     float64   `json:"score"`
	Stage     int       `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the mutable run state every rule evaluation reads and writes.
// Mutated only by the Scheduler; the orchestrator reads it for display and
// for applying parameter changes downstream.
type State struct {
	Episode int `json:"episode"`

	EpsilonEnd   float64 `json:"epsilon_end"`
	EpsilonDecay float64 `json:"epsilon_decay"`
	LRScale      float64 `json:"lr_scale"`
	Horizon      int     `json:"horizon"`
	Gamma        float64 `json:"gamma"`
	Alpha        float64 `json:"alpha"`

	StageIndex int `json:"stage_index"`

	Rewards config.RewardConfig `json:"rewards"`

	Best *BestEval `json:"best,omitempty"`

	// LastAdjusted maps rule key to the episode it last fired; the cooldown
	// gate.
	LastAdjusted map[string]int `json:"last_adjusted"`

	// belowBest counts consecutive episodes with the live moving average
	// under the rollback fraction of the best score.
	belowBest int
}

// #endregion scheduler-state

// #region outcome

// Adjustment describes one parameter change made by a rule.
type Adjustment struct {
	Rule      string  `json:"rule"`
	Parameter string  `json:"parameter"`
	Old       float64 `json:"old"`
	New       float64 `json:"new"`
	Reason    string  `json:"reason"`
}

// Outcome is what one end-of-episode evaluation produced. The scheduler only
// signals; the orchestrator applies buffer truncation and checkpoint reloads.
type Outcome struct {
	Adjustments []Adjustment

	AdvanceStage bool
	NewBoardSize int
	DropFraction float64

	RollbackRequested bool
}

// #endregion outcome
