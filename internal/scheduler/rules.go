package scheduler

import (
	"fmt"
	"math"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/metrics"
)

// #region lr-rules

// ruleLRShrink reacts to a plateau or regression: non-positive score slope
// and no short-horizon improvement shrink the persistent lrScale.
func (s *Scheduler) ruleLRShrink(ep int, sum metrics.Summary, improvement float64, out *Outcome) {
	const rule = "lr_shrink"
	if !s.ready(rule, ep) {
		return
	}
	if sum.ScoreSlope > 0 || improvement > 0 {
		return
	}
	old := s.state.LRScale
	next := old * s.cfg.LRShrink
	floor := s.cfg.LRMin / s.cfg.LRBase
	if next < floor {
		next = floor
	}
	if next == old {
		return
	}
	s.state.LRScale = next
	s.fired(rule, ep)
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "lr_scale", Old: old, New: next,
		Reason: fmt.Sprintf("plateau: slope=%.4f improvement=%.3f", sum.ScoreSlope, improvement),
	})
}

// ruleLRRecover steps lrScale back up once the score slope turns positive
// while scaled down.
func (s *Scheduler) ruleLRRecover(ep int, sum metrics.Summary, improvement float64, out *Outcome) {
	const rule = "lr_recover"
	if !s.ready(rule, ep) {
		return
	}
	if s.state.LRScale >= 1 || sum.ScoreSlope <= 0 || improvement <= 0 {
		return
	}
	old := s.state.LRScale
	next := old * s.cfg.LRGrow
	if next > 1 {
		next = 1
	}
	s.state.LRScale = next
	s.fired(rule, ep)
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "lr_scale", Old: old, New: next,
		Reason: fmt.Sprintf("recovery: slope=%.4f improvement=%.3f", sum.ScoreSlope, improvement),
	})
}

// #endregion lr-rules

// #region exploration-rules

// ruleEpsilonBoost raises the exploration floor and its decay horizon on
// stagnation: flat-or-falling slope with improvement under the threshold.
func (s *Scheduler) ruleEpsilonBoost(ep int, sum metrics.Summary, improvement float64, out *Outcome) {
	const rule = "epsilon_boost"
	if !s.ready(rule, ep) {
		return
	}
	if sum.ScoreSlope > 0 || improvement >= s.cfg.StagnationThreshold || improvement < 0 {
		return
	}
	old := s.state.EpsilonEnd
	next := old * 2
	if next > s.cfg.EpsilonFloorMax {
		next = s.cfg.EpsilonFloorMax
	}
	if next == old {
		return
	}
	s.state.EpsilonEnd = next
	s.state.EpsilonDecay *= 1.5
	s.fired(rule, ep)
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "epsilon_end", Old: old, New: next,
		Reason: fmt.Sprintf("stagnation: slope=%.4f improvement=%.3f", sum.ScoreSlope, improvement),
	})
}

// ruleEpsilonRegression handles outright regression: negative improvement
// raises the floor further and also shrinks lrScale.
func (s *Scheduler) ruleEpsilonRegression(ep int, sum metrics.Summary, improvement float64, out *Outcome) {
	const rule = "epsilon_regression"
	if !s.ready(rule, ep) {
		return
	}
	if improvement >= 0 {
		return
	}
	oldEps := s.state.EpsilonEnd
	nextEps := oldEps * 3
	if nextEps > s.cfg.EpsilonFloorMax {
		nextEps = s.cfg.EpsilonFloorMax
	}
	oldScale := s.state.LRScale
	nextScale := oldScale * s.cfg.LRShrink
	floor := s.cfg.LRMin / s.cfg.LRBase
	if nextScale < floor {
		nextScale = floor
	}
	if nextEps == oldEps && nextScale == oldScale {
		return
	}
	s.state.EpsilonEnd = nextEps
	s.state.LRScale = nextScale
	s.fired(rule, ep)
	reason := fmt.Sprintf("regression: improvement=%.3f", improvement)
	out.Adjustments = append(out.Adjustments,
		Adjustment{Rule: rule, Parameter: "epsilon_end", Old: oldEps, New: nextEps, Reason: reason},
		Adjustment{Rule: rule, Parameter: "lr_scale", Old: oldScale, New: nextScale, Reason: reason},
	)
}

// ruleEpsilonRevert steps a boosted floor halfway back toward baseline once
// both slope and improvement are positive again.
func (s *Scheduler) ruleEpsilonRevert(ep int, sum metrics.Summary, improvement float64, out *Outcome) {
	const rule = "epsilon_revert"
	if !s.ready(rule, ep) {
		return
	}
	if sum.ScoreSlope <= 0 || improvement <= 0 || s.state.EpsilonEnd <= s.cfg.EpsilonEnd {
		return
	}
	old := s.state.EpsilonEnd
	next := s.cfg.EpsilonEnd + (old-s.cfg.EpsilonEnd)/2
	s.state.EpsilonEnd = next
	s.fired(rule, ep)
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "epsilon_end", Old: old, New: next,
		Reason: "recovered: stepping exploration floor back toward baseline",
	})
}

// #endregion exploration-rules

// #region horizon-rule

// ruleHorizon raises the n-step horizon when the agent takes too long to
// reach fruit (credit isn't propagating far enough) and lowers it when fruit
// comes quickly.
func (s *Scheduler) ruleHorizon(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "horizon"
	if !s.ready(rule, ep) || sum.MeanTimeToGoal == 0 {
		return
	}
	old := s.state.Horizon
	next := old
	switch {
	case sum.MeanTimeToGoal > s.cfg.TimeToGoalHigh && old < s.cfg.HorizonMax:
		next = old + 1
	case sum.MeanTimeToGoal < s.cfg.TimeToGoalLow && old > s.cfg.HorizonMin:
		next = old - 1
	}
	if next == old {
		return
	}
	s.state.Horizon = next
	s.fired(rule, ep)
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "horizon", Old: float64(old), New: float64(next),
		Reason: fmt.Sprintf("mean time-to-goal %.1f", sum.MeanTimeToGoal),
	})
}

// #endregion horizon-rule

// #region gamma-rule

// ruleGamma raises the discount when episode length is growing (longer
// horizons matter more) and lowers it toward baseline when the self-collision
// rate is high, since over-long-horizon credit can encourage risky growth.
func (s *Scheduler) ruleGamma(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "gamma"
	if !s.ready(rule, ep) || sum.AvgLength500 == 0 {
		return
	}
	old := s.state.Gamma
	next := old
	reason := ""
	switch {
	case sum.SelfRate > s.cfg.SelfRateHigh && old > s.cfg.GammaBase:
		next = old - s.cfg.GammaStep
		if next < s.cfg.GammaBase {
			next = s.cfg.GammaBase
		}
		reason = fmt.Sprintf("self-collision rate %.2f", sum.SelfRate)
	case sum.AvgLength100 > sum.AvgLength500*1.1 && old < s.cfg.GammaMax:
		next = old + s.cfg.GammaStep
		if next > s.cfg.GammaMax {
			next = s.cfg.GammaMax
		}
		reason = fmt.Sprintf("episode length growing: %.0f vs %.0f", sum.AvgLength100, sum.AvgLength500)
	}
	if next == old {
		return
	}
	s.state.Gamma = next
	s.fired(rule, ep)
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "gamma", Old: old, New: next, Reason: reason,
	})
}

// #endregion gamma-rule

// #region alpha-rule

// ruleAlpha tunes the prioritization exponent from the TD-error tail: a high
// p95/p50 ratio means the heavy tail deserves harder prioritization.
func (s *Scheduler) ruleAlpha(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "alpha"
	if !s.ready(rule, ep) || sum.TDErrorRatio == 0 {
		return
	}
	old := s.state.Alpha
	next := old
	switch {
	case sum.TDErrorRatio > s.cfg.TDRatioHigh && old < s.cfg.AlphaMax:
		next = old + s.cfg.AlphaStep
		if next > s.cfg.AlphaMax {
			next = s.cfg.AlphaMax
		}
	case sum.TDErrorRatio < s.cfg.TDRatioLow && old > s.cfg.AlphaMin:
		next = old - s.cfg.AlphaStep
		if next < s.cfg.AlphaMin {
			next = s.cfg.AlphaMin
		}
	}
	if next == old {
		return
	}
	s.state.Alpha = next
	s.fired(rule, ep)
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "priority_alpha", Old: old, New: next,
		Reason: fmt.Sprintf("td-error p95/p50 ratio %.1f", sum.TDErrorRatio),
	})
}

// #endregion alpha-rule

// #region reward-rules

// deepen scales a shaped reward term by 25%, capped at RewardScaleMax times
// its baseline magnitude so a persistently firing rule cannot grow a term
// without bound over a long run.
func (s *Scheduler) deepen(current, base float64) float64 {
	next := current * 1.25
	limit := base * s.cfg.RewardScaleMax
	if math.Abs(next) > math.Abs(limit) {
		next = limit
	}
	return next
}

// ruleRewardLoop raises the loop penalty when the loop detector fires on a
// non-trivial share of episodes while the score is not improving.
func (s *Scheduler) ruleRewardLoop(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "reward_loop"
	if !s.ready(rule, ep) {
		return
	}
	if sum.LoopHitRate <= s.cfg.LoopHitRateHigh || sum.ScoreSlope > 0 {
		return
	}
	old := s.state.Rewards.LoopPenalty
	next := s.deepen(old, s.baseline.LoopPenalty)
	if next == old {
		return
	}
	s.state.Rewards.LoopPenalty = next
	s.fired(rule, ep)
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "loop_penalty", Old: old, New: next,
		Reason: fmt.Sprintf("loop hit rate %.2f with slope %.4f", sum.LoopHitRate, sum.ScoreSlope),
	})
}

// ruleRewardRevisit raises the revisit penalty and nudges the exploration
// floor when the agent keeps re-treading its own path.
func (s *Scheduler) ruleRewardRevisit(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "reward_revisit"
	if !s.ready(rule, ep) {
		return
	}
	if sum.RevisitRate <= s.cfg.RevisitRateHigh {
		return
	}
	old := s.state.Rewards.RevisitPenalty
	next := s.deepen(old, s.baseline.RevisitPenalty)
	oldEps := s.state.EpsilonEnd
	nextEps := oldEps * 1.2
	if nextEps > s.cfg.EpsilonFloorMax {
		nextEps = s.cfg.EpsilonFloorMax
	}
	if next == old && nextEps == oldEps {
		return
	}
	s.state.Rewards.RevisitPenalty = next
	s.state.EpsilonEnd = nextEps
	s.fired(rule, ep)
	reason := fmt.Sprintf("revisit rate %.2f", sum.RevisitRate)
	if next != old {
		out.Adjustments = append(out.Adjustments,
			Adjustment{Rule: rule, Parameter: "revisit_penalty", Old: old, New: next, Reason: reason})
	}
	if nextEps != oldEps {
		out.Adjustments = append(out.Adjustments,
			Adjustment{Rule: rule, Parameter: "epsilon_end", Old: oldEps, New: nextEps, Reason: reason})
	}
}

// ruleRewardSelf raises the self-collision penalty and shrinks the turn
// penalty when the snake keeps running into itself: cheap turns make evasive
// play viable.
func (s *Scheduler) ruleRewardSelf(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "reward_self"
	if !s.ready(rule, ep) {
		return
	}
	if sum.SelfRate <= s.cfg.SelfRateHigh {
		return
	}
	oldSelf := s.state.Rewards.SelfPenalty
	nextSelf := s.deepen(oldSelf, s.baseline.SelfPenalty)
	oldTurn := s.state.Rewards.TurnPenalty
	nextTurn := oldTurn * 0.5
	if nextSelf == oldSelf && nextTurn == oldTurn {
		return
	}
	s.state.Rewards.SelfPenalty = nextSelf
	s.state.Rewards.TurnPenalty = nextTurn
	s.fired(rule, ep)
	reason := fmt.Sprintf("self-collision rate %.2f", sum.SelfRate)
	if nextSelf != oldSelf {
		out.Adjustments = append(out.Adjustments,
			Adjustment{Rule: rule, Parameter: "self_penalty", Old: oldSelf, New: nextSelf, Reason: reason})
	}
	if nextTurn != oldTurn {
		out.Adjustments = append(out.Adjustments,
			Adjustment{Rule: rule, Parameter: "turn_penalty", Old: oldTurn, New: nextTurn, Reason: reason})
	}
}

// ruleRewardApproach strengthens approach/retreat shaping when fruit takes
// long to reach but the cause is not looping or revisiting.
func (s *Scheduler) ruleRewardApproach(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "reward_approach"
	if !s.ready(rule, ep) {
		return
	}
	if sum.MeanTimeToGoal <= s.cfg.TimeToGoalHigh ||
		sum.LoopHitRate > s.cfg.LoopHitRateHigh ||
		sum.RevisitRate > s.cfg.RevisitRateHigh {
		return
	}
	oldA := s.state.Rewards.ApproachReward
	nextA := s.deepen(oldA, s.baseline.ApproachReward)
	oldR := s.state.Rewards.RetreatPenalty
	nextR := s.deepen(oldR, s.baseline.RetreatPenalty)
	if nextA == oldA && nextR == oldR {
		return
	}
	s.state.Rewards.ApproachReward = nextA
	s.state.Rewards.RetreatPenalty = nextR
	s.fired(rule, ep)
	reason := fmt.Sprintf("mean time-to-goal %.1f without loops/revisits", sum.MeanTimeToGoal)
	if nextA != oldA {
		out.Adjustments = append(out.Adjustments,
			Adjustment{Rule: rule, Parameter: "approach_reward", Old: oldA, New: nextA, Reason: reason})
	}
	if nextR != oldR {
		out.Adjustments = append(out.Adjustments,
			Adjustment{Rule: rule, Parameter: "retreat_penalty", Old: oldR, New: nextR, Reason: reason})
	}
}

// #endregion reward-rules

// #region curriculum-rule

// ruleCurriculum advances one stage when the moving-average score clears the
// next stage's threshold. Forward-only; the orchestrator truncates the buffer
// so stale small-board experience doesn't dominate.
func (s *Scheduler) ruleCurriculum(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "curriculum"
	if !s.ready(rule, ep) {
		return
	}
	next := s.state.StageIndex + 1
	if next >= len(s.cfg.Stages) {
		return
	}
	if sum.AvgScore100 <= s.cfg.Stages[next].ScoreThreshold {
		return
	}
	old := s.state.StageIndex
	s.state.StageIndex = next
	s.fired(rule, ep)
	out.AdvanceStage = true
	out.NewBoardSize = s.cfg.Stages[next].BoardSize
	out.DropFraction = s.cfg.DropFraction
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "stage", Old: float64(old), New: float64(next),
		Reason: fmt.Sprintf("score %.1f cleared threshold %.1f", sum.AvgScore100, s.cfg.Stages[next].ScoreThreshold),
	})
}

// #endregion curriculum-rule

// #region rollback-rule

// ruleRollback requests a reload of the best checkpoint after the live
// moving average has sat below a fraction of the best score for a sustained
// window. A request, not an action: the orchestrator performs the reload.
func (s *Scheduler) ruleRollback(ep int, sum metrics.Summary, out *Outcome) {
	const rule = "rollback"
	if s.state.Best == nil {
		return
	}
	if sum.AvgScore100 < s.state.Best.Score*s.cfg.RollbackFraction {
		s.state.belowBest++
	} else {
		s.state.belowBest = 0
	}
	if s.state.belowBest < s.cfg.RollbackWindow || !s.ready(rule, ep) {
		return
	}
	s.state.belowBest = 0
	s.fired(rule, ep)
	out.RollbackRequested = true
	out.Adjustments = append(out.Adjustments, Adjustment{
		Rule: rule, Parameter: "rollback", Old: s.state.Best.Score, New: sum.AvgScore100,
		Reason: fmt.Sprintf("score %.1f below %.0f%% of best %.1f for %d episodes",
			sum.AvgScore100, s.cfg.RollbackFraction*100, s.state.Best.Score, s.cfg.RollbackWindow),
	})
}

// #endregion rollback-rule
