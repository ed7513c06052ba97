// Package pgaudit writes execution logs to PostgreSQL.
//
// Sink implements engine.LogSink and can replace the SQLite store as the
// destination of the audit trail.
package pgaudit

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/tally/internal/rules"
)

//go:embed schema.sql
var schemaSQL string

// Config holds the connection settings.
type Config struct {
	// DSN is a PostgreSQL connection string (URL or key=value form).
	DSN string

	// MaxConns caps the pool size. Default: 4.
	MaxConns int32

	// ConnectTimeout bounds the initial ping. Default: 5s.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// Sink appends execution logs to PostgreSQL.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// parseConfig applies defaults and builds the pool configuration.
func parseConfig(cfg Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	return poolConfig, nil
}

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	poolConfig, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("connected to audit database",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database)
	return &Sink{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Sink) Close() {
	s.pool.Close()
}

// AppendExecutionLogs inserts logs in one transaction.
func (s *Sink) AppendExecutionLogs(ctx context.Context, logs []rules.ExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	batch := &pgx.Batch{}
	for _, l := range logs {
		actions := l.ActionsExecuted
		if actions == nil {
			actions = []string{}
		}
		batch.Queue(`
			INSERT INTO execution_logs
			(rule_id, transaction_id, matched, actions_executed, run_id, trigger_type, dry_run, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			l.RuleID,
			l.TransactionID,
			l.Matched,
			actions,
			l.Context.RunID,
			string(l.Context.Trigger),
			l.Context.DryRun,
			l.Error,
			l.CreatedAt.UTC(),
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range logs {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("inserting execution log %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ExecutionLogs returns the rows of one run in insertion order.
func (s *Sink) ExecutionLogs(ctx context.Context, runID string) ([]rules.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, transaction_id, matched, actions_executed, run_id,
		       trigger_type, dry_run, error, created_at
		FROM execution_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying execution logs: %w", err)
	}
	defer rows.Close()

	logs := []rules.ExecutionLog{}
	for rows.Next() {
		var (
			l       rules.ExecutionLog
			trigger string
		)
		err := rows.Scan(&l.ID, &l.RuleID, &l.TransactionID, &l.Matched, &l.ActionsExecuted,
			&l.Context.RunID, &trigger, &l.Context.DryRun, &l.Error, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning execution log: %w", err)
		}
		l.Context.Trigger = rules.TriggerType(trigger)
		l.CreatedAt = l.CreatedAt.UTC()
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution logs: %w", err)
	}
	return logs, nil
}
