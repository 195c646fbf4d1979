package analytics

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mockforge/core/analytics/migrations"
	domain "github.com/mockforge/core/domain/analytics"
)

// SQLSink hands flushed batches off to a Postgres table for an external,
// out-of-scope persistence layer to query, using jmoiron/sqlx over
// lib/pq.
type SQLSink struct {
	db *sqlx.DB
}

// NewSQLSink opens a Postgres connection pool at dsn and applies the
// embedded schema migrations before returning.
func NewSQLSink(ctx context.Context, dsn string) (*SQLSink, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: connect: %w", err)
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("analytics: migrate: %w", err)
	}
	return &SQLSink{db: db}, nil
}

// NewSQLSinkFromDB wraps an already-open sqlx.DB (e.g. a sqlmock-backed
// one in tests) without running migrations or owning its lifecycle.
func NewSQLSinkFromDB(db *sqlx.DB) *SQLSink {
	return &SQLSink{db: db}
}

// Close releases the underlying connection pool.
func (s *SQLSink) Close() error { return s.db.Close() }

const insertEventSQL = `
INSERT INTO analytics_events
	(protocol, method, path, status, duration_ms, fixture_id, fault_injected, occurred_at)
VALUES
	(:protocol, :method, :path, :status, :duration_ms, :fixture_id, :fault_injected, :occurred_at)
`

type eventRow struct {
	Protocol      string  `db:"protocol"`
	Method        string  `db:"method"`
	Path          string  `db:"path"`
	Status        int     `db:"status"`
	DurationMs    float64 `db:"duration_ms"`
	FixtureID     string  `db:"fixture_id"`
	FaultInjected bool    `db:"fault_injected"`
	OccurredAt    string  `db:"occurred_at"`
}

// Write implements Sink by batch-inserting events inside a single
// transaction, rolling back entirely on any row failure.
func (s *SQLSink) Write(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, eventRow{
			Protocol:      e.Protocol,
			Method:        e.Method,
			Path:          e.Path,
			Status:        e.Status,
			DurationMs:    e.DurationMs,
			FixtureID:     e.FixtureID,
			FaultInjected: e.FaultInjected,
			OccurredAt:    e.OccurredAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("analytics: begin: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, insertEventSQL, row); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("analytics: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("analytics: commit: %w", err)
	}
	return nil
}
