package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"nbodyrun/internal/logging"
	"nbodyrun/internal/runs"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists simulation run records across sessions.
//
// Backed by SQLite for durability, thread-safe with a read-write mutex. The
// connection is capped at one so concurrent batch workers serialize their
// writes instead of tripping over SQLITE_BUSY.
type RunStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewRunStore opens (creating if needed) the run database at the given path.
func NewRunStore(path string) (*RunStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewRunStore")
	defer timer.Stop()

	logging.Store("Initializing RunStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &RunStore{db: db, dbPath: path}
	if err := s.ensureSchema(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to ensure run schema: %v", err)
		db.Close()
		return nil, fmt.Errorf("failed to ensure run schema: %w", err)
	}

	logging.Store("RunStore initialized")
	return s, nil
}

// ensureSchema creates the runs table if it doesn't exist.
func (s *RunStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		engine TEXT NOT NULL,
		input_file TEXT NOT NULL,
		output_directory TEXT NOT NULL,
		return_code INTEGER NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		output_files TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		duration_ms INTEGER,
		killed BOOLEAN NOT NULL DEFAULT 0,
		kill_reason TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_input ON runs(input_file);
	CREATE INDEX IF NOT EXISTS idx_runs_engine ON runs(engine);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *RunStore) Path() string {
	return s.dbPath
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	logging.StoreDebug("Closing RunStore at %s", s.dbPath)
	return s.db.Close()
}

// ========== Write Operations ==========

// SaveRun persists a run record. Saving the same id again replaces the row.
// Satisfies runs.Store.
func (s *RunStore) SaveRun(ctx context.Context, rec *runs.Record) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveRun")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Storing run record: id=%s status=%s code=%d", rec.ID, rec.Status, rec.ExitCode)

	filesJSON, _ := json.Marshal(rec.OutputFiles)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, engine, input_file, output_directory, return_code, status, message,
		 output_files, started_at, finished_at, duration_ms, killed, kill_reason, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Engine, rec.InputPath, rec.OutputDir, rec.ExitCode,
		string(rec.Status), rec.Message, string(filesJSON),
		rec.StartedAt, rec.FinishedAt, rec.DurationMs,
		rec.Killed, rec.KillReason, rec.Error,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store run %s: %v", rec.ID, err)
		return err
	}

	logging.StoreDebug("Run record stored: %s (%dms)", rec.ID, rec.DurationMs)
	return nil
}

// PruneOlderThan removes runs that started before the retention window.
// Returns the number of rows deleted.
func (s *RunStore) PruneOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "PruneOlderThan")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE started_at < ?`, cutoff)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to prune old runs: %v", err)
		return 0, err
	}

	rowsAffected, _ := result.RowsAffected()
	logging.Store("Pruned %d old runs (retention=%d days)", rowsAffected, retentionDays)
	return rowsAffected, nil
}

// ========== Read Operations ==========

// GetRun retrieves a single run by id. A unique id prefix works too, so
// the short ids shown in listings resolve.
func (s *RunStore) GetRun(ctx context.Context, id string) (*runs.Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetRun")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, engine, input_file, output_directory, return_code, status, message,
		       output_files, started_at, finished_at, duration_ms, killed, kill_reason, error
		FROM runs
		WHERE id = ? OR id LIKE ?
		ORDER BY (id = ?) DESC
		LIMIT 2`, id, id+"%", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := s.scanRuns(rows)
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return recs[0], nil
	default:
		for _, rec := range recs {
			if rec.ID == id {
				return rec, nil
			}
		}
		return nil, fmt.Errorf("ambiguous run id prefix: %s", id)
	}
}

// ListRuns retrieves the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*runs.Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListRuns")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, engine, input_file, output_directory, return_code, status, message,
		       output_files, started_at, finished_at, duration_ms, killed, kill_reason, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to list runs: %v", err)
		return nil, err
	}
	defer rows.Close()

	return s.scanRuns(rows)
}

// ListRunsByStatus retrieves recent runs with the given status, newest first.
func (s *RunStore) ListRunsByStatus(ctx context.Context, status runs.Status, limit int) ([]*runs.Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListRunsByStatus")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, engine, input_file, output_directory, return_code, status, message,
		       output_files, started_at, finished_at, duration_ms, killed, kill_reason, error
		FROM runs
		WHERE status = ?
		ORDER BY started_at DESC
		LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRuns(rows)
}

// ListRunsByInput retrieves recent runs of one input file, newest first.
// Useful for tracking how a simulation evolved across parameter edits.
func (s *RunStore) ListRunsByInput(ctx context.Context, inputPath string, limit int) ([]*runs.Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListRunsByInput")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, engine, input_file, output_directory, return_code, status, message,
		       output_files, started_at, finished_at, duration_ms, killed, kill_reason, error
		FROM runs
		WHERE input_file = ?
		ORDER BY started_at DESC
		LIMIT ?`, inputPath, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRuns(rows)
}

// RunStats aggregates the persisted runs.
type RunStats struct {
	TotalRuns     int64            `json:"total_runs"`
	Successful    int64            `json:"successful"`
	Failed        int64            `json:"failed"`
	SuccessRate   float64          `json:"success_rate"`
	AvgDurationMs float64          `json:"avg_duration_ms"`
	ByEngine      map[string]int64 `json:"by_engine"`
}

// Stats computes aggregate statistics over all persisted runs.
func (s *RunStore) Stats(ctx context.Context) (*RunStats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Stats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &RunStats{ByEngine: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&stats.TotalRuns); err != nil {
		return nil, err
	}
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE status = 'success'").Scan(&stats.Successful)
	stats.Failed = stats.TotalRuns - stats.Successful
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalRuns)
		s.db.QueryRowContext(ctx, "SELECT AVG(duration_ms) FROM runs").Scan(&stats.AvgDurationMs)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT engine, COUNT(*) FROM runs GROUP BY engine")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var engine string
			var count int64
			if rows.Scan(&engine, &count) == nil {
				stats.ByEngine[engine] = count
			}
		}
	}

	return stats, nil
}

// ========== Helper Methods ==========

// scanRuns scans SQL rows into run records.
func (s *RunStore) scanRuns(rows *sql.Rows) ([]*runs.Record, error) {
	var recs []*runs.Record
	for rows.Next() {
		var r runs.Record
		var status, filesJSON string
		var message, killReason, runError sql.NullString
		var durationMs sql.NullInt64

		err := rows.Scan(
			&r.ID, &r.Engine, &r.InputPath, &r.OutputDir, &r.ExitCode,
			&status, &message, &filesJSON, &r.StartedAt, &r.FinishedAt,
			&durationMs, &r.Killed, &killReason, &runError,
		)
		if err != nil {
			continue
		}

		r.Status = runs.Status(status)
		if message.Valid {
			r.Message = message.String
		}
		if killReason.Valid {
			r.KillReason = killReason.String
		}
		if runError.Valid {
			r.Error = runError.String
		}
		if durationMs.Valid {
			r.DurationMs = durationMs.Int64
		}
		if filesJSON != "" {
			json.Unmarshal([]byte(filesJSON), &r.OutputFiles)
		}

		recs = append(recs, &r)
	}

	return recs, rows.Err()
}
