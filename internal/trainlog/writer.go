package trainlog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/diskguard"
	"github.com/Nomarcus/Snake-ML/go-trainer/internal/metrics"
)

// #region records

// MetricsRecord is one per-episode telemetry line.
type MetricsRecord struct {
	Episode     int
	Reward      float64
	Fruits      int
	Length      int
	Cause       metrics.TerminalCause
	BoardSize   int
	Epsilon     float64
	LR          float64
	AvgScore100 float64
	Loss        float64
}

// EvalRecord is one exploration-free evaluation line.
type EvalRecord struct {
	Episode int
	Score   float64
	Best    bool
}

// #endregion records

// #region writer

// Writer appends newline-delimited JSON records to a live log file. The file
// stays open in append mode so DiskGuard can truncate it during rotation
// without invalidating the handle.
type Writer struct {
	name   string
	file   *os.File
	logger zerolog.Logger
	guard  *diskguard.Guard
}

// NewWriter opens (or creates) the live log file dir/name. Pass a nil guard
// to disable rotation.
func NewWriter(dir, name string, guard *diskguard.Guard) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return &Writer{
		name:   name,
		file:   f,
		logger: zerolog.New(f).With().Timestamp().Logger(),
		guard:  guard,
	}, nil
}

// Metrics appends one type=metrics record.
func (w *Writer) Metrics(rec MetricsRecord) {
	w.logger.Log().
		Str("type", "metrics").
		Int("episode", rec.Episode).
		Float64("reward", rec.Reward).
		Int("fruits", rec.Fruits).
		Int("length", rec.Length).
		Str("cause", string(rec.Cause)).
		Int("board_size", rec.BoardSize).
		Float64("epsilon", rec.Epsilon).
		Float64("lr", rec.LR).
		Float64("avg_score_100", rec.AvgScore100).
		Float64("loss", rec.Loss).
		Send()
}

// Eval appends one type=eval record.
func (w *Writer) Eval(rec EvalRecord) {
	w.logger.Log().
		Str("type", "eval").
		Int("episode", rec.Episode).
		Float64("score", rec.Score).
		Bool("best", rec.Best).
		Send()
}

// Rotate asks the guard to archive the live file if it is over threshold.
func (w *Writer) Rotate() error {
	if w.guard == nil {
		return nil
	}
	return w.guard.RotateLogs(w.name)
}

// Close flushes and closes the live file.
func (w *Writer) Close() error {
	return w.file.Close()
}

// #endregion writer
