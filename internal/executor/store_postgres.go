package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresOutcomeStore keeps outcomes in the job_outcomes table.
type PostgresOutcomeStore struct {
	db        *sql.DB
	retention time.Duration
}

func NewPostgresOutcomeStore(ctx context.Context, db *sql.DB, retention time.Duration) (*PostgresOutcomeStore, error) {
	store := &PostgresOutcomeStore{db: db, retention: retention}
	if err := store.createTables(ctx); err != nil {
		return nil, fmt.Errorf("create job_outcomes: %w", err)
	}
	return store, nil
}

func (s *PostgresOutcomeStore) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS job_outcomes (
		id VARCHAR(64) PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		code VARCHAR(64) NOT NULL DEFAULT '',
		bytes INTEGER NOT NULL DEFAULT 0,
		queue_wait_ms BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		completed_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_outcomes_completed_at ON job_outcomes(completed_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresOutcomeStore) Save(ctx context.Context, o Outcome) error {
	query := `
		INSERT INTO job_outcomes (id, status, code, bytes, queue_wait_ms, duration_ms, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			code = EXCLUDED.code,
			bytes = EXCLUDED.bytes,
			queue_wait_ms = EXCLUDED.queue_wait_ms,
			duration_ms = EXCLUDED.duration_ms,
			completed_at = EXCLUDED.completed_at
	`
	_, err := s.db.ExecContext(ctx, query, o.ID, string(o.Status), o.Code, o.Bytes, o.QueueWaitMs, o.DurationMs, o.CreatedAt, o.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *PostgresOutcomeStore) Get(ctx context.Context, id string) (Outcome, error) {
	query := `
		SELECT id, status, code, bytes, queue_wait_ms, duration_ms, created_at, completed_at
		FROM job_outcomes WHERE id = $1
	`
	var o Outcome
	var status string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &status, &o.Code, &o.Bytes, &o.QueueWaitMs, &o.DurationMs, &o.CreatedAt, &o.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Outcome{}, ErrJobNotFound
		}
		return Outcome{}, fmt.Errorf("select outcome: %w", err)
	}
	o.Status = Status(status)
	return o, nil
}

func (s *PostgresOutcomeStore) Counts(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM job_outcomes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

// Prune deletes outcomes older than the retention window.
func (s *PostgresOutcomeStore) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_outcomes WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}
	return res.RowsAffected()
}
