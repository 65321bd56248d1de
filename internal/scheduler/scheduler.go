package scheduler

import (
	"math"
	"time"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/config"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/metrics"
)

// #region scheduler

// Scheduler is the adaptive control loop: a set of independently cooled-down
// adjustment rules evaluated every time an episode completes. No classical
// state machine, just rules gated by (ruleKey, episode).
type Scheduler struct {
	cfg      Config
	baseline config.RewardConfig // reference point for capping shaped-term growth
	state    State
}

// New creates a scheduler with baseline state.
func New(cfg Config, rewards config.RewardConfig) *Scheduler {
	if cfg.CooldownEpisodes < 1 {
		cfg.CooldownEpisodes = 1
	}
	if len(cfg.Stages) == 0 {
		cfg.Stages = DefaultStages()
	}
	if cfg.RewardScaleMax < 1 {
		cfg.RewardScaleMax = DefaultConfig().RewardScaleMax
	}
	return &Scheduler{
		cfg:      cfg,
		baseline: rewards,
		state: State{
			EpsilonEnd:   cfg.EpsilonEnd,
			EpsilonDecay: cfg.EpsilonDecay,
			LRScale:      1,
			Horizon:      3,
			Gamma:        cfg.GammaBase,
			Alpha:        0.6,
			Rewards:      rewards,
			LastAdjusted: make(map[string]int),
		},
	}
}

// State returns the live scheduler state.
func (s *Scheduler) State() *State {
	return &s.state
}

// Rewards returns the current reward configuration.
func (s *Scheduler) Rewards() config.RewardConfig {
	return s.state.Rewards
}

// BoardSize returns the board size of the current curriculum stage.
func (s *Scheduler) BoardSize() int {
	return s.cfg.Stages[s.state.StageIndex].BoardSize
}

// #endregion scheduler

// #region schedules

// LearningRate follows a cosine curve over a fixed-length episode cycle,
// scaled by the persistent lrScale multiplier and clamped to [LRMin, LRMax].
func (s *Scheduler) LearningRate(episode int) float64 {
	phase := float64(episode%s.cfg.LRCycle) / float64(s.cfg.LRCycle)
	lr := s.cfg.LRMin + (s.cfg.LRBase-s.cfg.LRMin)*0.5*(1+math.Cos(math.Pi*phase))
	lr *= s.state.LRScale
	if lr < s.cfg.LRMin {
		lr = s.cfg.LRMin
	}
	if lr > s.cfg.LRMax {
		lr = s.cfg.LRMax
	}
	return lr
}

// Epsilon is the exploration rate for the given episode: exponential decay
// from start toward the (possibly boosted) floor.
func (s *Scheduler) Epsilon(episode int) float64 {
	start := s.cfg.EpsilonStart
	end := s.state.EpsilonEnd
	return end + (start-end)*math.Exp(-float64(episode)/s.state.EpsilonDecay)
}

// #endregion schedules

// #region cooldown

// ready reports whether a rule may fire at the given episode: at most once
// per cooldown window, regardless of other rules firing.
func (s *Scheduler) ready(rule string, episode int) bool {
	last, ok := s.state.LastAdjusted[rule]
	return !ok || episode-last >= s.cfg.CooldownEpisodes
}

func (s *Scheduler) fired(rule string, episode int) {
	s.state.LastAdjusted[rule] = episode
}

// #endregion cooldown

// #region evaluate

// OnEpisodeEnd runs every adjustment rule against the current telemetry and
// returns the adjustments plus any signals (stage advance, rollback request)
// for the orchestrator to act on.
func (s *Scheduler) OnEpisodeEnd(episode int, sum metrics.Summary, improvement float64) Outcome {
	s.state.Episode = episode
	out := Outcome{}

	s.ruleLRShrink(episode, sum, improvement, &out)
	s.ruleLRRecover(episode, sum, improvement, &out)
	s.ruleEpsilonBoost(episode, sum, improvement, &out)
	s.ruleEpsilonRegression(episode, sum, improvement, &out)
	s.ruleEpsilonRevert(episode, sum, improvement, &out)
	s.ruleHorizon(episode, sum, &out)
	s.ruleGamma(episode, sum, &out)
	s.ruleAlpha(episode, sum, &out)
	s.ruleRewardLoop(episode, sum, &out)
	s.ruleRewardRevisit(episode, sum, &out)
	s.ruleRewardSelf(episode, sum, &out)
	s.ruleRewardApproach(episode, sum, &out)
	s.ruleCurriculum(episode, sum, &out)
	s.ruleRollback(episode, sum, &out)

	return out
}

// #endregion evaluate

// #region best-eval

// RecordEvaluation feeds the result of an exploration-free evaluation pass.
// A new best must beat the previous one by both an absolute and a relative
// margin, which keeps noise from churning the best record.
func (s *Scheduler) RecordEvaluation(episode int, score float64) bool {
	if s.state.Best != nil {
		prev := s.state.Best.Score
		if score < prev+s.cfg.BestAbsMargin || score < prev*(1+s.cfg.BestRelMargin) {
			return false
		}
	}
	s.state.Best = &BestEval{
		Episode:   episode,
		Score:     score,
		Stage:     s.state.StageIndex,
		CreatedAt: time.Now().UTC(),
	}
	s.state.belowBest = 0
	return true
}

// #endregion best-eval
