package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	config_json   TEXT NOT NULL,
	finished_at   TEXT,
	final_episode INTEGER
);

CREATE TABLE IF NOT EXISTS episodes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	episode    INTEGER NOT NULL,
	reward     REAL NOT NULL,
	fruits     INTEGER NOT NULL,
	length     INTEGER NOT NULL,
	cause      TEXT NOT NULL,
	board_size INTEGER NOT NULL,
	epsilon    REAL NOT NULL,
	lr         REAL NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS adjustments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	episode    INTEGER NOT NULL,
	rule       TEXT NOT NULL,
	parameter  TEXT NOT NULL,
	old_value  REAL NOT NULL,
	new_value  REAL NOT NULL,
	reason     TEXT,
	created_at TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS evaluations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	episode    INTEGER NOT NULL,
	score      REAL NOT NULL,
	is_best    INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run_id, episode);
CREATE INDEX IF NOT EXISTS idx_adjustments_run ON adjustments(run_id, episode);
`
// #endregion schema

// #region store-struct
// Store persists run provenance in SQLite: which parameters changed when,
// and what the telemetry looked like around each change.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region begin-run
// BeginRun inserts a new run row and returns its record with a fresh ID.
func (s *Store) BeginRun(configJSON string) (RunRecord, error) {
	rec := RunRecord{
		RunID:      uuid.New().String(),
		StartedAt:  time.Now().UTC(),
		ConfigJSON: configJSON,
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, started_at, config_json) VALUES (?, ?, ?)`,
		rec.RunID, rec.StartedAt.Format(time.RFC3339Nano), rec.ConfigJSON,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}
// #endregion begin-run

// #region finish-run
// FinishRun stamps a run as completed at the given episode.
func (s *Store) FinishRun(runID string, finalEpisode int) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, final_episode = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), finalEpisode, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}
// #endregion finish-run

// #region record-episode
// RecordEpisode appends one episode row.
func (s *Store) RecordEpisode(row EpisodeRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO episodes (run_id, episode, reward, fruits, length, cause, board_size, epsilon, lr, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.Episode, row.Reward, row.Fruits, row.Length, row.Cause,
		row.BoardSize, row.Epsilon, row.LR, row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}
// #endregion record-episode

// #region record-adjustment
// RecordAdjustment appends one scheduler decision row.
func (s *Store) RecordAdjustment(row AdjustmentRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO adjustments (run_id, episode, rule, parameter, old_value, new_value, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.Episode, row.Rule, row.Parameter, row.OldValue, row.NewValue,
		row.Reason, row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}
// #endregion record-adjustment

// #region record-evaluation
// RecordEvaluation appends one evaluation-pass row.
func (s *Store) RecordEvaluation(row EvaluationRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	best := 0
	if row.IsBest {
		best = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO evaluations (run_id, episode, score, is_best, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		row.RunID, row.Episode, row.Score, best, row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}
// #endregion record-evaluation

// #region list-runs
// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, started_at, config_json, finished_at, final_episode
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedStr string
		var finishedStr sql.NullString
		var finalEp sql.NullInt64
		if err := rows.Scan(&rec.RunID, &startedStr, &rec.ConfigJSON, &finishedStr, &finalEp); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		if finishedStr.Valid {
			rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedStr.String)
			rec.Finished = true
		}
		if finalEp.Valid {
			rec.FinalEpisode = int(finalEp.Int64)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-runs

// #region list-adjustments
// ListAdjustments returns a run's decision log, newest first.
func (s *Store) ListAdjustments(runID string, limit int) ([]AdjustmentRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, episode, rule, parameter, old_value, new_value, reason, created_at
		 FROM adjustments WHERE run_id = ? ORDER BY episode DESC, id DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	defer rows.Close()

	var records []AdjustmentRow
	for rows.Next() {
		var row AdjustmentRow
		var reason sql.NullString
		var createdStr string
		if err := rows.Scan(&row.RunID, &row.Episode, &row.Rule, &row.Parameter,
			&row.OldValue, &row.NewValue, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		if reason.Valid {
			row.Reason = reason.String
		}
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, row)
	}
	return records, rows.Err()
}
// #endregion list-adjustments

// #region recent-episodes
// RecentEpisodes returns a run's most recent episode rows, newest first.
func (s *Store) RecentEpisodes(runID string, limit int) ([]EpisodeRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, episode, reward, fruits, length, cause, board_size, epsilon, lr, created_at
		 FROM episodes WHERE run_id = ? ORDER BY episode DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent episodes: %w", err)
	}
	defer rows.Close()

	var records []EpisodeRow
	for rows.Next() {
		var row EpisodeRow
		var createdStr string
		if err := rows.Scan(&row.RunID, &row.Episode, &row.Reward, &row.Fruits, &row.Length,
			&row.Cause, &row.BoardSize, &row.Epsilon, &row.LR, &createdStr); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, row)
	}
	return records, rows.Err()
}
// #endregion recent-episodes

// #region best-evaluations
// BestEvaluations returns the evaluation rows flagged as new bests, newest
// first.
func (s *Store) BestEvaluations(runID string, limit int) ([]EvaluationRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, episode, score, is_best, created_at
		 FROM evaluations WHERE run_id = ? AND is_best = 1 ORDER BY episode DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("best evaluations: %w", err)
	}
	defer rows.Close()

	var records []EvaluationRow
	for rows.Next() {
		var row EvaluationRow
		var best int
		var createdStr string
		if err := rows.Scan(&row.RunID, &row.Episode, &row.Score, &best, &createdStr); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		row.IsBest = best == 1
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, row)
	}
	return records, rows.Err()
}
// #endregion best-evaluations
