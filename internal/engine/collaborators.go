package engine

import (
	"context"
	"time"

	"github.com/roach88/tally/internal/action"
	"github.com/roach88/tally/internal/rules"
)

// RuleSource is the rule definition read API.
type RuleSource interface {
	// RuleGroups returns an owner's groups with rule headers, including
	// inactive ones. The engine applies the active filters.
	RuleGroups(ctx context.Context, ownerID int64) ([]rules.RuleGroup, error)

	// Rules returns rule headers by id with GroupOrder and GroupActive set.
	// Unknown ids are skipped.
	Rules(ctx context.Context, ids []int64) ([]rules.Rule, error)

	ConditionGroups(ctx context.Context, ruleID int64) ([]rules.ConditionGroup, error)
	Actions(ctx context.Context, ruleID int64) ([]rules.ActionSpec, error)
}

// TransactionSource is the transaction field-read API.
type TransactionSource interface {
	// Transactions returns the given transactions in order, skipping
	// unknown ids.
	Transactions(ctx context.Context, ids []int64) ([]*rules.Transaction, error)

	// TransactionPage returns up to limit of an owner's transactions booked
	// within [from, to] whose id is greater than afterID, ordered by id.
	TransactionPage(ctx context.Context, ownerID int64, from, to time.Time, afterID int64, limit int) ([]*rules.Transaction, error)
}

// UnitOfWork opens the atomic boundary around one rule's actions.
type UnitOfWork interface {
	Begin(ctx context.Context) (action.Tx, error)
}

// LogSink receives execution-log batches.
type LogSink interface {
	AppendExecutionLogs(ctx context.Context, logs []rules.ExecutionLog) error
}

// Cacheable is implemented by components that keep caches the engine can
// report on and drop. ClearCaches and CacheStats discover it on
// collaborators by type assertion.
type Cacheable interface {
	Clear()
	Stats() CacheStats
}

// CacheStats describes one cache.
type CacheStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}
