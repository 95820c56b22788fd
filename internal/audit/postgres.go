package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" sql driver
)

// PostgresRepo is the BatchWriter backing PostgresSink: a single
// multi-row INSERT per batch against the audit_events table.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo opens a pooled connection to connString. It does not
// verify connectivity; callers should Ping before relying on it.
func NewPostgresRepo(connString string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open audit postgres repo: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresRepo{db: db}, nil
}

// Ping verifies connectivity.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (r *PostgresRepo) Close() error {
	return r.db.Close()
}

// WriteBatch inserts events in a single round trip.
func (r *PostgresRepo) WriteBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	const numFields = 11
	placeholders := strings.Builder{}
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		if i > 0 {
			placeholders.WriteString(",")
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		vals = append(vals,
			e.RequestID, e.TraceID, e.Timestamp, e.Tool, e.Actor, e.ArgsSHA256,
			e.Decision, e.Reason, e.DurationMs, e.ResultBytes, e.ErrorCode,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_events (request_id, trace_id, timestamp, tool, actor, args_sha256, decision, reason, duration_ms, result_bytes, error_code) VALUES %s",
		placeholders.String(),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}
