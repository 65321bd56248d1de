package scheduler

import (
	"math"
	"testing"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/config"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/metrics"
)

func newTestScheduler(cfg Config) *Scheduler {
	return New(cfg, config.DefaultRewardConfig())
}

func TestLearningRateCosineCycle(t *testing.T) {
	cfg := DefaultConfig()
	s := newTestScheduler(cfg)

	if got := s.LearningRate(0); math.Abs(got-cfg.LRBase) > 1e-12 {
		t.Fatalf("lr at cycle start = %g, want %g", got, cfg.LRBase)
	}
	mid := s.LearningRate(cfg.LRCycle / 2)
	want := cfg.LRMin + (cfg.LRBase-cfg.LRMin)*0.5
	if math.Abs(mid-want) > 1e-9 {
		t.Fatalf("lr at half cycle = %g, want %g", mid, want)
	}
	prev := s.LearningRate(0)
	for ep := 1; ep <= cfg.LRCycle/2; ep += 100 {
		lr := s.LearningRate(ep)
		if lr > prev {
			t.Fatalf("lr not decreasing over first half cycle: %g then %g at ep %d", prev, lr, ep)
		}
		prev = lr
	}
}

func TestLearningRateScaleClampedToMin(t *testing.T) {
	cfg := DefaultConfig()
	s := newTestScheduler(cfg)
	s.State().LRScale = 1e-6
	if got := s.LearningRate(0); got != cfg.LRMin {
		t.Fatalf("scaled lr = %g, want clamp to %g", got, cfg.LRMin)
	}
}

func TestEpsilonDecaysTowardFloor(t *testing.T) {
	cfg := DefaultConfig()
	s := newTestScheduler(cfg)

	if got := s.Epsilon(0); math.Abs(got-cfg.EpsilonStart) > 1e-9 {
		t.Fatalf("epsilon(0) = %g, want %g", got, cfg.EpsilonStart)
	}
	late := s.Epsilon(100000)
	if math.Abs(late-cfg.EpsilonEnd) > 1e-6 {
		t.Fatalf("epsilon(100000) = %g, want ~floor %g", late, cfg.EpsilonEnd)
	}
	if s.Epsilon(100) <= s.Epsilon(1000) {
		t.Fatalf("epsilon should decay monotonically")
	}
}

// Telemetry that makes the lr_shrink rule eligible every single episode.
func plateauSummary() metrics.Summary {
	return metrics.Summary{ScoreSlope: -0.1, AvgScore100: 1, AvgScore500: 1}
}

func TestCooldownBlocksImmediateRefire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 100
	s := newTestScheduler(cfg)

	var fired []int
	for ep := 1; ep <= 300; ep++ {
		out := s.OnEpisodeEnd(ep, plateauSummary(), -0.5)
		for _, adj := range out.Adjustments {
			if adj.Rule == "lr_shrink" {
				fired = append(fired, ep)
			}
		}
	}
	if len(fired) < 2 {
		t.Fatalf("expected lr_shrink to fire at least twice, got %v", fired)
	}
	for i := 1; i < len(fired); i++ {
		if fired[i]-fired[i-1] < cfg.CooldownEpisodes {
			t.Fatalf("lr_shrink refired after %d episodes, cooldown is %d", fired[i]-fired[i-1], cfg.CooldownEpisodes)
		}
	}
}

// Every rule, under telemetry crafted to make it eligible every episode, must
// respect its cooldown window.
func TestCooldownHoldsUnderAdversarialTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 50
	cfg.RollbackWindow = 10
	s := newTestScheduler(cfg)
	s.RecordEvaluation(0, 50)

	// Trips plateau, stagnation, regression, horizon, gamma, alpha, all three
	// reward rules and rollback at once.
	sum := metrics.Summary{
		ScoreSlope:     -0.2,
		AvgScore100:    5,
		AvgScore500:    5,
		AvgLength100:   200,
		AvgLength500:   100,
		SelfRate:       0.6,
		MeanTimeToGoal: 90,
		TDErrorRatio:   20,
		LoopHitRate:    0.2,
		RevisitRate:    0.3,
	}

	lastFired := map[string]int{}
	for ep := 1; ep <= 600; ep++ {
		out := s.OnEpisodeEnd(ep, sum, -0.5)
		seen := map[string]bool{}
		for _, adj := range out.Adjustments {
			if seen[adj.Rule] {
				continue // one rule may emit several adjustments
			}
			seen[adj.Rule] = true
			if last, ok := lastFired[adj.Rule]; ok && ep-last < cfg.CooldownEpisodes {
				t.Fatalf("rule %q fired at %d and again at %d, cooldown %d", adj.Rule, last, ep, cfg.CooldownEpisodes)
			}
			lastFired[adj.Rule] = ep
		}
	}
	if len(lastFired) == 0 {
		t.Fatalf("adversarial telemetry fired no rules at all")
	}
}

func TestEpsilonBoostOnStagnationCapsAtFloorMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)

	sum := metrics.Summary{ScoreSlope: -0.01, AvgScore100: 3, AvgScore500: 3}
	for ep := 1; ep <= 20; ep++ {
		s.OnEpisodeEnd(ep, sum, 0.0)
	}
	if got := s.State().EpsilonEnd; got != cfg.EpsilonFloorMax {
		t.Fatalf("boosted floor = %g, want cap %g", got, cfg.EpsilonFloorMax)
	}
}

func TestEpsilonRevertStepsBackTowardBaseline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)
	s.State().EpsilonEnd = 0.10

	sum := metrics.Summary{ScoreSlope: 0.5, AvgScore100: 10, AvgScore500: 5}
	s.OnEpisodeEnd(1, sum, 1.0)

	want := cfg.EpsilonEnd + (0.10-cfg.EpsilonEnd)/2
	if got := s.State().EpsilonEnd; math.Abs(got-want) > 1e-12 {
		t.Fatalf("reverted floor = %g, want %g", got, want)
	}
}

func TestHorizonAdjustsWithTimeToGoal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)

	s.OnEpisodeEnd(1, metrics.Summary{MeanTimeToGoal: 90, ScoreSlope: 1, AvgScore100: 5}, 1.0)
	if got := s.State().Horizon; got != 4 {
		t.Fatalf("horizon after slow fruit = %d, want 4", got)
	}
	s.OnEpisodeEnd(2, metrics.Summary{MeanTimeToGoal: 5, ScoreSlope: 1, AvgScore100: 5}, 1.0)
	s.OnEpisodeEnd(3, metrics.Summary{MeanTimeToGoal: 5, ScoreSlope: 1, AvgScore100: 5}, 1.0)
	if got := s.State().Horizon; got != 2 {
		t.Fatalf("horizon after fast fruit = %d, want 2", got)
	}
}

func TestHorizonClampedToMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)
	s.State().Horizon = cfg.HorizonMax

	out := s.OnEpisodeEnd(1, metrics.Summary{MeanTimeToGoal: 90, ScoreSlope: 1, AvgScore100: 5}, 1.0)
	for _, adj := range out.Adjustments {
		if adj.Rule == "horizon" {
			t.Fatalf("horizon rule fired past the cap: %+v", adj)
		}
	}
	if got := s.State().Horizon; got != cfg.HorizonMax {
		t.Fatalf("horizon = %d, want clamp at %d", got, cfg.HorizonMax)
	}
}

func TestGammaRaisesWhenEpisodesLengthen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)

	sum := metrics.Summary{AvgLength100: 200, AvgLength500: 100, ScoreSlope: 1, AvgScore100: 5}
	s.OnEpisodeEnd(1, sum, 1.0)
	want := cfg.GammaBase + cfg.GammaStep
	if got := s.State().Gamma; math.Abs(got-want) > 1e-12 {
		t.Fatalf("gamma = %g, want %g", got, want)
	}
}

func TestGammaLowersOnSelfCollisions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)
	s.State().Gamma = cfg.GammaBase + 2*cfg.GammaStep

	sum := metrics.Summary{AvgLength100: 100, AvgLength500: 100, SelfRate: 0.5, ScoreSlope: 1, AvgScore100: 5}
	s.OnEpisodeEnd(1, sum, 1.0)
	want := cfg.GammaBase + cfg.GammaStep
	if got := s.State().Gamma; math.Abs(got-want) > 1e-12 {
		t.Fatalf("gamma = %g, want %g", got, want)
	}
}

func TestAlphaTracksTDErrorTail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)

	s.OnEpisodeEnd(1, metrics.Summary{TDErrorRatio: 20, ScoreSlope: 1, AvgScore100: 5}, 1.0)
	if got := s.State().Alpha; math.Abs(got-0.7) > 1e-12 {
		t.Fatalf("alpha after heavy tail = %g, want 0.7", got)
	}
	s.OnEpisodeEnd(2, metrics.Summary{TDErrorRatio: 1.1, ScoreSlope: 1, AvgScore100: 5}, 1.0)
	if got := s.State().Alpha; math.Abs(got-0.6) > 1e-12 {
		t.Fatalf("alpha after flat tail = %g, want 0.6", got)
	}
}

func TestRewardRulesScalePenalties(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)
	base := s.Rewards()

	sum := metrics.Summary{
		ScoreSlope:  -0.1,
		LoopHitRate: 0.2,
		RevisitRate: 0.3,
		SelfRate:    0.5,
		AvgScore100: 3, AvgScore500: 3,
	}
	s.OnEpisodeEnd(1, sum, 0.0)

	got := s.Rewards()
	if math.Abs(got.LoopPenalty-base.LoopPenalty*1.25) > 1e-12 {
		t.Fatalf("loop penalty = %g, want %g", got.LoopPenalty, base.LoopPenalty*1.25)
	}
	if math.Abs(got.RevisitPenalty-base.RevisitPenalty*1.25) > 1e-12 {
		t.Fatalf("revisit penalty = %g, want %g", got.RevisitPenalty, base.RevisitPenalty*1.25)
	}
	if math.Abs(got.SelfPenalty-base.SelfPenalty*1.25) > 1e-12 {
		t.Fatalf("self penalty = %g, want %g", got.SelfPenalty, base.SelfPenalty*1.25)
	}
	if math.Abs(got.TurnPenalty-base.TurnPenalty*0.5) > 1e-12 {
		t.Fatalf("turn penalty = %g, want halved %g", got.TurnPenalty, base.TurnPenalty*0.5)
	}
}

func TestRewardEscalationIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)
	base := s.Rewards()

	// Keep the loop rule firing every episode; the penalty must stop growing
	// at RewardScaleMax times its baseline.
	sum := metrics.Summary{ScoreSlope: -0.1, LoopHitRate: 0.2, AvgScore100: 3, AvgScore500: 3}
	for ep := 1; ep <= 40; ep++ {
		s.OnEpisodeEnd(ep, sum, 0.5)
	}
	limit := base.LoopPenalty * cfg.RewardScaleMax
	if got := s.Rewards().LoopPenalty; got != limit {
		t.Fatalf("loop penalty = %g, want cap %g", got, limit)
	}

	// A saturated rule is a no-op: no further adjustments are emitted.
	out := s.OnEpisodeEnd(41, sum, 0.5)
	for _, adj := range out.Adjustments {
		if adj.Rule == "reward_loop" {
			t.Fatalf("capped rule still adjusting: %+v", adj)
		}
	}
}

func TestApproachShapingOnlyWithoutLoops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)
	base := s.Rewards()

	// Loops present: approach shaping must not fire.
	s.OnEpisodeEnd(1, metrics.Summary{MeanTimeToGoal: 90, LoopHitRate: 0.2, ScoreSlope: 1, AvgScore100: 5}, 1.0)
	if got := s.Rewards().ApproachReward; got != base.ApproachReward {
		t.Fatalf("approach reward changed despite loop hits")
	}
	// Slow fruit with clean movement: shaping strengthens.
	s.OnEpisodeEnd(2, metrics.Summary{MeanTimeToGoal: 90, ScoreSlope: 1, AvgScore100: 5}, 1.0)
	if got := s.Rewards().ApproachReward; math.Abs(got-base.ApproachReward*1.25) > 1e-12 {
		t.Fatalf("approach reward = %g, want %g", got, base.ApproachReward*1.25)
	}
}

func TestCurriculumAdvancesForwardOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)

	if got := s.BoardSize(); got != 8 {
		t.Fatalf("initial board = %d, want 8", got)
	}
	out := s.OnEpisodeEnd(1, metrics.Summary{AvgScore100: 7, ScoreSlope: 1}, 1.0)
	if !out.AdvanceStage || out.NewBoardSize != 10 {
		t.Fatalf("expected advance to board 10, got %+v", out)
	}
	if out.DropFraction != cfg.DropFraction {
		t.Fatalf("drop fraction = %g, want %g", out.DropFraction, cfg.DropFraction)
	}
	// Score dropping below the threshold never moves the stage back.
	out = s.OnEpisodeEnd(2, metrics.Summary{AvgScore100: 1, ScoreSlope: 1}, 1.0)
	if out.AdvanceStage || s.BoardSize() != 10 {
		t.Fatalf("curriculum moved backward: board %d", s.BoardSize())
	}
}

func TestCurriculumStopsAtFinalStage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	s := newTestScheduler(cfg)
	s.State().StageIndex = len(cfg.Stages) - 1

	out := s.OnEpisodeEnd(1, metrics.Summary{AvgScore100: 1000, ScoreSlope: 1}, 1.0)
	if out.AdvanceStage {
		t.Fatalf("advanced past final stage")
	}
}

func TestRecordEvaluationRequiresBothMargins(t *testing.T) {
	cfg := DefaultConfig()
	s := newTestScheduler(cfg)

	if !s.RecordEvaluation(100, 10) {
		t.Fatalf("first evaluation should always become best")
	}
	if s.RecordEvaluation(200, 10.3) {
		t.Fatalf("10.3 accepted over 10 despite abs margin %g", cfg.BestAbsMargin)
	}
	// Clears the absolute margin but not the relative one.
	s.state.Best.Score = 100
	if s.RecordEvaluation(300, 100.6) {
		t.Fatalf("100.6 accepted over 100 despite rel margin %g", cfg.BestRelMargin)
	}
	if !s.RecordEvaluation(400, 103) {
		t.Fatalf("103 over 100 should clear both margins")
	}
	if s.State().Best.Episode != 400 {
		t.Fatalf("best episode = %d, want 400", s.State().Best.Episode)
	}
}

func TestRollbackRequestedAfterSustainedRegression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	cfg.RollbackWindow = 5
	s := newTestScheduler(cfg)
	s.RecordEvaluation(0, 40)

	sum := metrics.Summary{AvgScore100: 10, ScoreSlope: 1} // below 40 * 0.5
	var requestedAt int
	for ep := 1; ep <= 10; ep++ {
		if s.OnEpisodeEnd(ep, sum, 1.0).RollbackRequested {
			requestedAt = ep
			break
		}
	}
	if requestedAt != cfg.RollbackWindow {
		t.Fatalf("rollback requested at episode %d, want %d", requestedAt, cfg.RollbackWindow)
	}
}

func TestRollbackCounterResetsOnRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownEpisodes = 1
	cfg.RollbackWindow = 5
	s := newTestScheduler(cfg)
	s.RecordEvaluation(0, 40)

	low := metrics.Summary{AvgScore100: 10, ScoreSlope: 1}
	high := metrics.Summary{AvgScore100: 35, ScoreSlope: 1}
	for ep := 1; ep <= 4; ep++ {
		s.OnEpisodeEnd(ep, low, 1.0)
	}
	s.OnEpisodeEnd(5, high, 1.0) // resets the streak
	for ep := 6; ep <= 9; ep++ {
		if s.OnEpisodeEnd(ep, low, 1.0).RollbackRequested {
			t.Fatalf("rollback requested at %d after streak reset", ep)
		}
	}
}
