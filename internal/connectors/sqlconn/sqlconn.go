// Package sqlconn implements the read-only relational database connector:
// a keyword/statement-shape verifier ahead of a pooled, timeout-bounded,
// row-capped query executor. Reliability wrapping (bounded retry around
// transient driver failures) mirrors internal/engine/reliability.go's
// ReliabilityWrapper, which wraps its outbound call in avast/retry-go the
// same way.
package sqlconn

import (
	"context"
	"fmt"
	"time"

	"github.com/coreflux/toolgateway/internal/errkind"
	"github.com/coreflux/toolgateway/internal/registry"
	"github.com/coreflux/toolgateway/internal/schema"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config is the static configuration for the SQL connector.
type Config struct {
	DSN            string
	QueryTimeoutMs int64
	MaxRows        int
	MaxOpenConns   int32
	MaxRetries     uint
}

// Connector holds a pooled connection and exposes db.query and db.schema.
type Connector struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New opens a pgx connection pool against cfg.DSN. It does not verify
// connectivity; callers should Ping before relying on it.
func New(ctx context.Context, cfg Config) (*Connector, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse sql connector dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open sql connector pool: %w", err)
	}
	return &Connector{pool: pool, cfg: cfg}, nil
}

// Ping verifies connectivity.
func (c *Connector) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close releases the connection pool. Every acquired connection must
// already have been released on its own error path; Close only tears
// down the idle pool itself.
func (c *Connector) Close() {
	c.pool.Close()
}

// Tools returns db.query and db.schema, in that order.
func (c *Connector) Tools() []registry.Tool {
	return []registry.Tool{c.queryTool(), c.schemaTool()}
}

func (c *Connector) queryTool() registry.Tool {
	return registry.Tool{
		Name:        "db.query",
		Description: "Run a read-only SQL query against the configured database.",
		InputSchema: schema.Object(
			schema.P("sql", schema.String()),
			schema.P("params", schema.Array(schema.String()).OptionalField()),
		),
		Handler: c.query,
	}
}

func (c *Connector) schemaTool() registry.Tool {
	return registry.Tool{
		Name:        "db.schema",
		Description: "Inspect table or column metadata via information_schema.",
		InputSchema: schema.Object(
			schema.P("table", schema.String().OptionalField()),
			schema.P("schema", schema.String().WithDefault("public")),
		),
		Handler: c.describeSchema,
	}
}

func (c *Connector) query(ctx context.Context, args map[string]any) (any, error) {
	sql, _ := args["sql"].(string)
	if err := verifyReadOnly(sql); err != nil {
		return nil, err
	}

	rawParams, _ := args["params"].([]any)
	params := make([]any, len(rawParams))
	copy(params, rawParams)

	timeout := time.Duration(c.cfg.QueryTimeoutMs) * time.Millisecond
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxRows := c.cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}

	var rows []map[string]any
	var truncated bool

	attempts := c.cfg.MaxRetries
	if attempts == 0 {
		attempts = 3
	}

	r := retry.New(retry.Context(queryCtx), retry.Attempts(attempts))
	err := r.Do(func() error {
		rows, truncated = nil, false
		result, execErr := c.runQuery(queryCtx, sql, params, maxRows)
		if execErr != nil {
			return execErr
		}
		rows, truncated = result.rows, result.truncated
		return nil
	})

	if err != nil {
		if queryCtx.Err() != nil {
			return nil, errkind.Wrap(errkind.Timeout, "query deadline exceeded", err)
		}
		if kerr, ok := errkind.As(err); ok {
			return nil, kerr
		}
		return nil, errkind.Wrap(errkind.ConnectorError, "query failed", err)
	}

	return map[string]any{
		"rows":      rows,
		"count":     len(rows),
		"truncated": truncated,
	}, nil
}

type queryResult struct {
	rows      []map[string]any
	truncated bool
}

func (c *Connector) runQuery(ctx context.Context, sql string, params []any, maxRows int) (queryResult, error) {
	pgRows, err := c.pool.Query(ctx, sql, params...)
	if err != nil {
		return queryResult{}, errkind.Wrap(errkind.ConnectorError, "query execution failed", err)
	}
	defer pgRows.Close()

	fields := pgRows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f.Name)
	}

	var out []map[string]any
	truncated := false
	for pgRows.Next() {
		if len(out) >= maxRows {
			truncated = true
			break
		}
		values, verr := pgRows.Values()
		if verr != nil {
			return queryResult{}, errkind.Wrap(errkind.ConnectorError, "row scan failed", verr)
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			if i < len(values) {
				row[name] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := pgRows.Err(); err != nil {
		return queryResult{}, errkind.Wrap(errkind.ConnectorError, "row iteration failed", err)
	}
	return queryResult{rows: out, truncated: truncated}, nil
}

func (c *Connector) describeSchema(ctx context.Context, args map[string]any) (any, error) {
	schemaName, _ := args["schema"].(string)
	if schemaName == "" {
		schemaName = "public"
	}
	table, _ := args["table"].(string)

	timeout := time.Duration(c.cfg.QueryTimeoutMs) * time.Millisecond
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rows pgx.Rows
	var err error
	if table == "" {
		rows, err = c.pool.Query(queryCtx,
			`SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`,
			schemaName)
	} else {
		rows, err = c.pool.Query(queryCtx,
			`SELECT column_name, data_type, is_nullable FROM information_schema.columns
			 WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
			schemaName, table)
	}
	if err != nil {
		if queryCtx.Err() != nil {
			return nil, errkind.Wrap(errkind.Timeout, "schema query deadline exceeded", err)
		}
		return nil, errkind.Wrap(errkind.ConnectorError, "schema query failed", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values, verr := rows.Values()
		if verr != nil {
			if queryCtx.Err() != nil {
				return nil, errkind.Wrap(errkind.Timeout, "schema query deadline exceeded", verr)
			}
			return nil, errkind.Wrap(errkind.ConnectorError, "row scan failed", verr)
		}
		if table == "" {
			out = append(out, map[string]any{"table_name": values[0]})
		} else {
			out = append(out, map[string]any{
				"column_name": values[0],
				"data_type":   values[1],
				"is_nullable": values[2],
			})
		}
	}
	if err := rows.Err(); err != nil {
		if queryCtx.Err() != nil {
			return nil, errkind.Wrap(errkind.Timeout, "schema query deadline exceeded", err)
		}
		return nil, errkind.Wrap(errkind.ConnectorError, "row iteration failed", err)
	}

	return map[string]any{"schema": schemaName, "table": table, "entries": out, "count": len(out)}, nil
}
