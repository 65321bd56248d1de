package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/checkpoint"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/config"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/history"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/learner"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/metrics"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/replay"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/scheduler"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/snake"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/trainlog"
)

// #region orchestrator-struct

// Orchestrator is the single-writer training loop: it alone steps
// environments, mutates the replay buffer, and evaluates the scheduler.
// Only checkpoint writes leave the loop, and those never overlap themselves.
type Orchestrator struct {
	cfg  config.TrainerConfig
	deps Deps

	sched     *scheduler.Scheduler
	buffer    *replay.PrioritizedBuffer
	collector *metrics.Collector
	envs      []*snake.Env
	accs      []*replay.ReturnAccumulator

	runID   string
	episode int
	steps   int64

	saving atomic.Bool
	wg     sync.WaitGroup
}

// #endregion orchestrator-struct

// #region constructor

// New creates a fully wired orchestrator. The config is normalized, so
// out-of-range tuning values are clamped rather than rejected.
func New(cfg config.TrainerConfig, rewards config.RewardConfig, deps Deps) *Orchestrator {
	cfg = cfg.Normalized()

	scfg := scheduler.DefaultConfig()
	scfg.LRBase = cfg.LRBase
	scfg.LRMin = cfg.LRMin
	scfg.LRMax = cfg.LRMax
	scfg.LRCycle = cfg.LRCycle
	scfg.EpsilonStart = cfg.EpsilonStart
	scfg.EpsilonEnd = cfg.EpsilonEnd
	scfg.EpsilonDecay = cfg.EpsilonDecay
	scfg.GammaBase = cfg.Gamma
	sched := scheduler.New(scfg, rewards)
	st := sched.State()
	st.Horizon = cfg.Horizon
	st.Gamma = cfg.Gamma
	st.Alpha = cfg.PriorityAlpha

	buffer := replay.NewPrioritizedBuffer(replay.BufferConfig{
		Capacity: cfg.BufferCapacity,
		Alpha:    cfg.PriorityAlpha,
		Beta:     cfg.PriorityBeta,
		BetaInc:  cfg.PriorityBetaInc,
		Eps:      cfg.PriorityEps,
	}, cfg.Seed)

	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		sched:     sched,
		buffer:    buffer,
		collector: metrics.NewCollector(),
	}
	accCfg := replay.AccumulatorConfig{Horizon: cfg.Horizon, Gamma: cfg.Gamma, Lambda: cfg.Lambda}
	for i := 0; i < cfg.Envs; i++ {
		o.envs = append(o.envs, snake.NewEnv(sched.BoardSize(), rewards, uint64(cfg.Seed)+uint64(i)))
		o.accs = append(o.accs, replay.NewReturnAccumulator(accCfg))
	}
	return o
}

// Episode returns the number of completed episodes.
func (o *Orchestrator) Episode() int {
	return o.episode
}

// #endregion constructor

// #region run

// Run drives the training loop until MaxEpisodes or context cancellation.
// Cancellation is a clean shutdown: the current episode finishes, in-flight
// checkpoint writes complete, and a final checkpoint is taken.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.deps.History != nil {
		cfgJSON, err := json.Marshal(o.cfg)
		if err != nil {
			return fmt.Errorf("encode run config: %w", err)
		}
		rec, err := o.deps.History.BeginRun(string(cfgJSON))
		if err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		o.runID = rec.RunID
	}
	o.restore(ctx)

	o.deps.Logger.Info().
		Int("episodes", o.cfg.MaxEpisodes).
		Int("envs", o.cfg.Envs).
		Int("board", o.sched.BoardSize()).
		Msg("training run starting")

	var runErr error
	for o.episode < o.cfg.MaxEpisodes && ctx.Err() == nil {
		if err := o.runEpisode(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			runErr = err
			break
		}
	}

	o.wg.Wait()
	o.saveSync(checkpoint.ReasonFinal, false)
	if o.deps.History != nil {
		if err := o.deps.History.FinishRun(o.runID, o.episode); err != nil {
			o.deps.Logger.Warn().Err(err).Msg("finish run record")
		}
	}
	o.deps.Logger.Info().Int("episode", o.episode).Msg("training run stopped")
	return runErr
}

// #endregion run

// #region episode

func (o *Orchestrator) runEpisode(ctx context.Context) error {
	episode := o.episode + 1
	slot := o.episode % len(o.envs)
	env := o.envs[slot]
	acc := o.accs[slot]

	epsilon := o.sched.Epsilon(episode)
	lr := o.sched.LearningRate(episode)

	env.Reset(o.sched.BoardSize())
	for !env.Done() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		action, err := o.deps.Learner.ActExplore(ctx, env.State(), epsilon)
		if err != nil {
			return fmt.Errorf("episode %d: %w", episode, err)
		}
		res := env.Step(action)
		for _, shaped := range acc.Push(replay.Transition{
			State:     res.State,
			Action:    res.Action,
			Reward:    res.Reward,
			NextState: res.NextState,
			Done:      res.Done,
		}) {
			o.buffer.Push(shaped)
		}
		o.steps++
		if o.steps%int64(o.cfg.TrainEvery) == 0 {
			if err := o.trainStep(ctx, lr); err != nil {
				return err
			}
		}
	}

	o.episode = episode
	stats := env.Stats()
	o.collector.RecordEpisode(metrics.EpisodeRecord{
		Episode:        episode,
		Reward:         stats.Reward,
		Fruits:         stats.Fruits,
		Length:         stats.Steps,
		Cause:          stats.Cause,
		LoopHits:       stats.LoopHits,
		Revisits:       stats.Revisits,
		RevisitPenalty: stats.RevisitPenalty,
		TimeToGoal:     stats.TimeToGoal,
	})

	sum := o.collector.Summary()
	improvement := o.collector.FruitImprovement(o.cfg.EvalInterval)
	outcome := o.sched.OnEpisodeEnd(episode, sum, improvement)
	o.applyOutcome(ctx, episode, outcome)
	o.record(episode, stats, sum, epsilon, lr)

	if o.cfg.EvalInterval > 0 && episode%o.cfg.EvalInterval == 0 {
		if err := o.runEval(ctx, episode); err != nil {
			return err
		}
	}
	if o.cfg.CheckpointInterval > 0 && episode%o.cfg.CheckpointInterval == 0 {
		o.saveAsync(ctx, checkpoint.ReasonPeriodic, false)
	}
	if o.deps.Trainlog != nil {
		if err := o.deps.Trainlog.Rotate(); err != nil {
			o.deps.Logger.Warn().Err(err).Msg("log rotation")
		}
	}
	return nil
}

// trainStep runs one prioritized learning step. An empty buffer skips the
// step rather than erroring.
func (o *Orchestrator) trainStep(ctx context.Context, lr float64) error {
	sample := o.buffer.Sample(o.cfg.BatchSize)
	if sample.Empty() {
		return nil
	}
	res, err := o.deps.Learner.TrainStep(ctx, learner.TrainRequest{
		Batch:        sample.Batch,
		Weights:      sample.Weights,
		LearningRate: lr,
	})
	if err != nil {
		return fmt.Errorf("train step: %w", err)
	}
	o.buffer.UpdatePriorities(sample.Indices, res.TDErrors)
	o.collector.RecordLoss(res.Loss, res.TDErrors)
	return nil
}

// #endregion episode

// #region outcome

// applyOutcome pushes scheduler decisions into the buffer, accumulators, and
// environments, and handles curriculum advances and rollback requests.
func (o *Orchestrator) applyOutcome(ctx context.Context, episode int, out scheduler.Outcome) {
	for _, adj := range out.Adjustments {
		o.deps.Logger.Info().
			Int("episode", episode).
			Str("rule", adj.Rule).
			Str("parameter", adj.Parameter).
			Float64("old", adj.Old).
			Float64("new", adj.New).
			Str("reason", adj.Reason).
			Msg("scheduler adjustment")
		if o.deps.History != nil {
			err := o.deps.History.RecordAdjustment(history.AdjustmentRow{
				RunID:     o.runID,
				Episode:   episode,
				Rule:      adj.Rule,
				Parameter: adj.Parameter,
				OldValue:  adj.Old,
				NewValue:  adj.New,
				Reason:    adj.Reason,
			})
			if err != nil {
				o.deps.Logger.Warn().Err(err).Msg("record adjustment")
			}
		}
	}

	st := o.sched.State()
	o.buffer.SetAlpha(st.Alpha)
	accCfg := replay.AccumulatorConfig{Horizon: st.Horizon, Gamma: st.Gamma, Lambda: o.cfg.Lambda}
	rewards := o.sched.Rewards()
	for i := range o.accs {
		o.accs[i].Reconfigure(accCfg)
		o.envs[i].SetRewards(rewards)
	}

	if out.AdvanceStage {
		o.buffer.DropOldest(out.DropFraction)
		o.deps.Logger.Info().
			Int("episode", episode).
			Int("board", out.NewBoardSize).
			Msg("curriculum advance")
		o.saveAsync(ctx, checkpoint.ReasonBoardChange, false)
	}
	if out.RollbackRequested {
		o.rollback(ctx, episode)
	}
}

// rollback reloads the best checkpoint into the learner. Best-effort: a
// failure is logged and training continues on the current weights.
func (o *Orchestrator) rollback(ctx context.Context, episode int) {
	if o.deps.Checkpoints == nil {
		o.deps.Logger.Warn().Int("episode", episode).Msg("rollback requested without checkpoint manager")
		return
	}
	doc, err := o.deps.Checkpoints.LoadBest()
	if err != nil {
		o.deps.Logger.Warn().Err(err).Int("episode", episode).Msg("rollback: load best")
		return
	}
	if err := o.deps.Learner.ImportState(ctx, doc.Agent); err != nil {
		o.deps.Logger.Warn().Err(err).Int("episode", episode).Msg("rollback: import state")
		return
	}
	o.deps.Logger.Info().
		Int("episode", episode).
		Int("best_episode", doc.Meta.Episode).
		Msg("rolled back to best checkpoint")
}

// #endregion outcome

// #region eval

// runEval plays exploration-free episodes on a fresh board and feeds the mean
// score to best-eval tracking. A new best triggers a best checkpoint.
func (o *Orchestrator) runEval(ctx context.Context, episode int) error {
	env := snake.NewEnv(o.sched.BoardSize(), o.sched.Rewards(), uint64(o.cfg.Seed)+uint64(episode))
	total := 0.0
	for i := 0; i < o.cfg.EvalEpisodes; i++ {
		env.Reset(o.sched.BoardSize())
		for !env.Done() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			action, err := o.deps.Learner.ActGreedy(ctx, env.State())
			if err != nil {
				return fmt.Errorf("eval at episode %d: %w", episode, err)
			}
			env.Step(action)
		}
		total += float64(env.Stats().Fruits)
	}
	score := total / float64(o.cfg.EvalEpisodes)

	isBest := o.sched.RecordEvaluation(episode, score)
	o.deps.Logger.Info().
		Int("episode", episode).
		Float64("score", score).
		Bool("best", isBest).
		Msg("evaluation pass")
	if o.deps.Trainlog != nil {
		o.deps.Trainlog.Eval(trainlog.EvalRecord{Episode: episode, Score: score, Best: isBest})
	}
	if o.deps.History != nil {
		err := o.deps.History.RecordEvaluation(history.EvaluationRow{
			RunID: o.runID, Episode: episode, Score: score, IsBest: isBest,
		})
		if err != nil {
			o.deps.Logger.Warn().Err(err).Msg("record evaluation")
		}
	}
	if isBest {
		o.saveAsync(ctx, checkpoint.ReasonBestEval, true)
	}
	return nil
}

// #endregion eval

// #region persistence

// saveAsync checkpoints in the background. A save already in flight wins;
// the new request is dropped, not queued.
func (o *Orchestrator) saveAsync(ctx context.Context, reason checkpoint.Reason, isBest bool) {
	if o.deps.Checkpoints == nil {
		return
	}
	if !o.saving.CompareAndSwap(false, true) {
		return
	}
	// Snapshot the learner on the loop thread so the background write sees a
	// consistent blob.
	blob, err := o.deps.Learner.ExportState(ctx)
	if err != nil {
		o.saving.Store(false)
		o.deps.Logger.Warn().Err(err).Msg("checkpoint: export state")
		return
	}
	req := o.saveRequest(blob, reason, isBest)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.saving.Store(false)
		if _, err := o.deps.Checkpoints.Save(req); err != nil {
			o.deps.Logger.Warn().Err(err).Str("reason", string(reason)).Msg("checkpoint save")
		}
	}()
}

// saveSync checkpoints on the caller's goroutine, used for the final save.
func (o *Orchestrator) saveSync(reason checkpoint.Reason, isBest bool) {
	if o.deps.Checkpoints == nil {
		return
	}
	blob, err := o.deps.Learner.ExportState(context.Background())
	if err != nil {
		o.deps.Logger.Warn().Err(err).Msg("final checkpoint: export state")
		return
	}
	if _, err := o.deps.Checkpoints.Save(o.saveRequest(blob, reason, isBest)); err != nil {
		o.deps.Logger.Warn().Err(err).Msg("final checkpoint save")
	}
}

func (o *Orchestrator) saveRequest(blob json.RawMessage, reason checkpoint.Reason, isBest bool) checkpoint.SaveRequest {
	st := o.sched.State()
	return checkpoint.SaveRequest{
		Agent:   blob,
		Rewards: o.sched.Rewards(),
		Meta: checkpoint.Meta{
			RunID:     o.runID,
			Episode:   o.episode,
			Step:      o.steps,
			BoardSize: o.sched.BoardSize(),
			Stage:     st.StageIndex,
			Hyper: map[string]float64{
				"epsilon_end": st.EpsilonEnd,
				"lr_scale":    st.LRScale,
				"gamma":       st.Gamma,
				"alpha":       st.Alpha,
				"horizon":     float64(st.Horizon),
				"beta":        o.buffer.Beta(),
				"capacity":    float64(o.buffer.Capacity()),
			},
		},
		IsBest: isBest,
		Reason: reason,
	}
}

// restore resumes from the latest checkpoint if one exists. A missing
// checkpoint starts a fresh run; any other failure is logged and the run
// starts fresh. Everything the document carries is reapplied: the learner
// blob, the tuned reward config, and the scheduler/buffer hyperparameters,
// so a restarted run continues with the tuning it had earned, not baseline.
func (o *Orchestrator) restore(ctx context.Context) {
	if o.deps.Checkpoints == nil {
		return
	}
	doc, err := o.deps.Checkpoints.LoadLatest()
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			o.deps.Logger.Warn().Err(err).Msg("restore: load latest")
		}
		return
	}
	if err := o.deps.Learner.ImportState(ctx, doc.Agent); err != nil {
		o.deps.Logger.Warn().Err(err).Msg("restore: import state")
		return
	}
	o.episode = doc.Meta.Episode
	o.steps = doc.Meta.Step

	st := o.sched.State()
	st.StageIndex = doc.Meta.Stage
	st.Rewards = doc.RewardConfig
	if h := doc.Meta.Hyper; h != nil {
		if v, ok := h["epsilon_end"]; ok {
			st.EpsilonEnd = v
		}
		if v, ok := h["lr_scale"]; ok {
			st.LRScale = v
		}
		if v, ok := h["gamma"]; ok {
			st.Gamma = v
		}
		if v, ok := h["alpha"]; ok {
			st.Alpha = v
		}
		if v, ok := h["horizon"]; ok {
			st.Horizon = int(v)
		}
		if v, ok := h["beta"]; ok {
			o.buffer.SetBeta(v)
		}
		if v, ok := h["capacity"]; ok && int(v) > 0 && int(v) != o.buffer.Capacity() {
			o.buffer.SetCapacity(int(v))
		}
	}
	o.buffer.SetAlpha(st.Alpha)
	accCfg := replay.AccumulatorConfig{Horizon: st.Horizon, Gamma: st.Gamma, Lambda: o.cfg.Lambda}
	for i := range o.accs {
		o.accs[i].Reconfigure(accCfg)
		o.envs[i].SetRewards(st.Rewards)
	}

	o.deps.Logger.Info().
		Int("episode", o.episode).
		Int("board", o.sched.BoardSize()).
		Msg("resumed from latest checkpoint")
}

// record emits the per-episode telemetry line and history row.
func (o *Orchestrator) record(episode int, stats snake.EpisodeStats, sum metrics.Summary, epsilon, lr float64) {
	if o.deps.Trainlog != nil {
		o.deps.Trainlog.Metrics(trainlog.MetricsRecord{
			Episode:     episode,
			Reward:      stats.Reward,
			Fruits:      stats.Fruits,
			Length:      stats.Steps,
			Cause:       stats.Cause,
			BoardSize:   o.sched.BoardSize(),
			Epsilon:     epsilon,
			LR:          lr,
			AvgScore100: sum.AvgScore100,
			Loss:        sum.LossMean,
		})
	}
	if o.deps.History != nil {
		err := o.deps.History.RecordEpisode(history.EpisodeRow{
			RunID:     o.runID,
			Episode:   episode,
			Reward:    stats.Reward,
			Fruits:    stats.Fruits,
			Length:    stats.Steps,
			Cause:     string(stats.Cause),
			BoardSize: o.sched.BoardSize(),
			Epsilon:   epsilon,
			LR:        lr,
		})
		if err != nil {
			o.deps.Logger.Warn().Err(err).Msg("record episode")
		}
	}
}

// #endregion persistence
