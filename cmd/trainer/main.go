package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/checkpoint"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/config"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/diskguard"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/history"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/learner"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/orchestrator"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/trainlog"
)

// #region main
func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg := config.DefaultTrainerConfig()
	cfg.LearnerURL = envOr("TRAINER_LEARNER_URL", cfg.LearnerURL)
	cfg.CheckpointDir = envOr("TRAINER_CHECKPOINT_DIR", cfg.CheckpointDir)
	cfg.LogPath = envOr("TRAINER_LOG_PATH", cfg.LogPath)
	cfg.HistoryPath = envOr("TRAINER_HISTORY_DB", cfg.HistoryPath)
	cfg.MaxEpisodes = envInt("TRAINER_EPISODES", cfg.MaxEpisodes)
	cfg.Envs = envInt("TRAINER_ENVS", cfg.Envs)
	cfg.Seed = int64(envInt("TRAINER_SEED", int(cfg.Seed)))
	cfg = cfg.Normalized()

	guard := diskguard.New(diskguard.Config{
		CheckpointDir:      cfg.CheckpointDir,
		LogDir:             filepath.Dir(cfg.LogPath),
		KeepCheckpoints:    cfg.CheckpointRetention,
		CheckpointBudgetMB: cfg.CheckpointBudgetMB,
		LogMaxMB:           cfg.LogSizeThresholdMB,
		KeepLogArchives:    cfg.LogRetention,
		LogBudgetMB:        cfg.LogBudgetMB,
		MinInterval:        time.Duration(cfg.GuardCooldownMinutes) * time.Minute,
	})

	ckpts, err := checkpoint.NewManager(cfg.CheckpointDir, guard)
	if err != nil {
		logger.Fatal().Err(err).Msg("open checkpoint root")
	}

	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open history db")
	}
	defer store.Close()

	tlog, err := trainlog.NewWriter(filepath.Dir(cfg.LogPath), filepath.Base(cfg.LogPath), guard)
	if err != nil {
		logger.Fatal().Err(err).Msg("open train log")
	}
	defer tlog.Close()

	rewards := config.DefaultRewardConfig()

	orch := orchestrator.New(cfg, rewards, orchestrator.Deps{
		Learner:     learner.NewHTTPLearner(cfg.LearnerURL),
		Checkpoints: ckpts,
		History:     store,
		Trainlog:    tlog,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("training run failed")
	}
}
// #endregion main

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
// #endregion helpers
