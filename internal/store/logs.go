package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tally/internal/rules"
)

// AppendExecutionLogs batch-inserts audit rows in one transaction.
func (s *Store) AppendExecutionLogs(ctx context.Context, logs []rules.ExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append execution logs: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO execution_logs
		(rule_id, transaction_id, matched, actions_executed, run_id, trigger_type, dry_run, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("append execution logs: prepare: %w", err)
	}
	defer stmt.Close()

	for _, l := range logs {
		actionsJSON, err := marshalActions(l.ActionsExecuted)
		if err != nil {
			return fmt.Errorf("append execution logs: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			l.RuleID,
			l.TransactionID,
			l.Matched,
			actionsJSON,
			l.Context.RunID,
			string(l.Context.Trigger),
			l.Context.DryRun,
			l.Error,
			l.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("append execution logs: insert rule %d transaction %d: %w", l.RuleID, l.TransactionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append execution logs: commit: %w", err)
	}
	return nil
}

// LogFilter narrows ExecutionLogs. Zero fields are ignored.
type LogFilter struct {
	RuleID        int64
	TransactionID int64
	RunID         string
	MatchedOnly   bool
	Limit         int
}

// ExecutionLogs returns audit rows in insertion order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ExecutionLogs(ctx context.Context, f LogFilter) ([]rules.ExecutionLog, error) {
	query := `
		SELECT id, rule_id, transaction_id, matched, actions_executed, run_id,
		       trigger_type, dry_run, error, created_at
		FROM execution_logs
		WHERE 1 = 1`
	var args []any
	if f.RuleID != 0 {
		query += ` AND rule_id = ?`
		args = append(args, f.RuleID)
	}
	if f.TransactionID != 0 {
		query += ` AND transaction_id = ?`
		args = append(args, f.TransactionID)
	}
	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.MatchedOnly {
		query += ` AND matched = 1`
	}
	query += ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution logs: %w", err)
	}
	defer rows.Close()

	logs := []rules.ExecutionLog{}
	for rows.Next() {
		var (
			l                    rules.ExecutionLog
			actionsJSON, created string
		)
		err := rows.Scan(&l.ID, &l.RuleID, &l.TransactionID, &l.Matched, &actionsJSON,
			&l.Context.RunID, &l.Context.Trigger, &l.Context.DryRun, &l.Error, &created)
		if err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		if l.ActionsExecuted, err = unmarshalActions(actionsJSON); err != nil {
			return nil, fmt.Errorf("execution log %d: %w", l.ID, err)
		}
		if l.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("execution log %d: parse created_at: %w", l.ID, err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution logs: %w", err)
	}
	return logs, nil
}
