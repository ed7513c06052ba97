package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/roach88/tally/internal/action"
	"github.com/roach88/tally/internal/condition"
	"github.com/roach88/tally/internal/rules"
)

const (
	// DefaultChunkSize bounds how many transactions ProcessDateRange and
	// ProcessBatch load at once.
	DefaultChunkSize = 100

	// DefaultLogBatchSize is the execution-log flush threshold.
	DefaultLogBatchSize = 100

	// DefaultFlushAttempts is how often a log batch is tried before it is
	// dropped.
	DefaultFlushAttempts = 3

	// DefaultFlushDelay is the pause between flush attempts.
	DefaultFlushDelay = 200 * time.Millisecond

	// DefaultFieldCacheSize bounds the memoized (transaction, field) values.
	DefaultFieldCacheSize = 1 << 16
)

// Engine evaluates transactions against rules and applies the actions of
// matching rules.
//
// An Engine is single-threaded: its caches and pending log buffer are not
// safe for concurrent use, and rule definitions are treated as immutable
// until ClearCaches.
type Engine struct {
	rules  *ruleCache
	fields *fieldCache
	eval   *condition.Evaluator
	exec   *action.Executor
	logs   *logBuffer

	txns TransactionSource
	uow  UnitOfWork

	logger         *slog.Logger
	clock          Clock
	runIDs         RunIDGenerator
	notifier       action.Notifier
	chunkSize      int
	fieldCacheSize int64
	dryRun         bool

	cacheables []Cacheable
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogSink sets where execution logs are written. Without a sink no
// execution logs are kept.
func WithLogSink(sink LogSink) Option {
	return func(e *Engine) {
		e.logs.sink = sink
	}
}

// WithLogger sets the operational logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithChunkSize sets how many transactions chunked processing loads at once.
//
// Default: 100 (DefaultChunkSize)
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithLogBatchSize sets the execution-log flush threshold.
//
// Default: 100 (DefaultLogBatchSize)
func WithLogBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.logs.threshold = n
		}
	}
}

// WithFlushRetries sets how many times a log batch is attempted and the delay
// between attempts.
func WithFlushRetries(attempts uint, delay time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.logs.attempts = attempts
		}
		e.logs.delay = delay
	}
}

// WithNotifier delivers send_notification actions.
func WithNotifier(n action.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithClock sets the clock used to stamp execution logs.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithRunIDGenerator sets the run id generator. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithDryRun sets the initial dry-run mode.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) {
		e.dryRun = dryRun
	}
}

// WithFieldCacheSize bounds the field value cache.
func WithFieldCacheSize(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fieldCacheSize = n
		}
	}
}

// New creates an Engine over the given collaborators.
//
// Collaborators that implement Cacheable are included in ClearCaches and
// CacheStats.
func New(src RuleSource, txns TransactionSource, uow UnitOfWork, opts ...Option) (*Engine, error) {
	e := &Engine{
		rules:          newRuleCache(src),
		eval:           condition.NewEvaluator(),
		txns:           txns,
		uow:            uow,
		logger:         slog.Default(),
		clock:          SystemClock{},
		runIDs:         UUIDv7Generator{},
		chunkSize:      DefaultChunkSize,
		fieldCacheSize: DefaultFieldCacheSize,
		logs: &logBuffer{
			threshold: DefaultLogBatchSize,
			attempts:  DefaultFlushAttempts,
			delay:     DefaultFlushDelay,
			enabled:   true,
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	fields, err := newFieldCache(e.fieldCacheSize)
	if err != nil {
		return nil, err
	}
	e.fields = fields
	e.logs.logger = e.logger
	e.exec = action.NewExecutor(action.WithNotifier(e.notifier), action.WithLogger(e.logger))

	for _, c := range []any{src, txns, uow, e.logs.sink} {
		e.cacheables = addCacheable(e.cacheables, c)
	}
	return e, nil
}

func addCacheable(list []Cacheable, v any) []Cacheable {
	c, ok := v.(Cacheable)
	if !ok {
		return list
	}
	if reflect.TypeOf(c).Comparable() {
		for _, existing := range list {
			if existing == c {
				return list
			}
		}
	}
	return append(list, c)
}

// SetDryRun toggles dry-run mode. In dry-run mode each matched rule's unit of
// work is opened, its actions run, and the unit is rolled back. The report
// still lists what would have been applied.
func (e *Engine) SetDryRun(dryRun bool) {
	e.dryRun = dryRun
}

// DryRun reports whether dry-run mode is on.
func (e *Engine) DryRun() bool {
	return e.dryRun
}

// SetLogging enables or disables execution logging. Disabling drops any
// buffered rows.
func (e *Engine) SetLogging(enabled bool) {
	e.logs.enabled = enabled
	if !enabled {
		e.logs.discard()
	}
}

// ClearCaches drops the rule, field and pattern caches and the caches of
// Cacheable collaborators. Call it when rule definitions change.
func (e *Engine) ClearCaches() {
	e.rules.Clear()
	e.fields.Clear()
	e.eval = condition.NewEvaluator()
	for _, c := range e.cacheables {
		c.Clear()
	}
}

// CacheStats reports every cache the engine knows about.
func (e *Engine) CacheStats() []CacheStats {
	stats := []CacheStats{e.rules.Stats(), e.fields.Stats()}
	for _, c := range e.cacheables {
		stats = append(stats, c.Stats())
	}
	return stats
}

// Close flushes buffered execution logs and releases the field cache.
func (e *Engine) Close(ctx context.Context) error {
	err := e.logs.flush(ctx)
	e.fields.close()
	return err
}

// selector returns the rules that apply to an owner's transactions.
type selector func(ctx context.Context, owner int64) ([]*compiledRule, error)

func (e *Engine) triggerSelector(trigger rules.TriggerType) selector {
	return func(ctx context.Context, owner int64) ([]*compiledRule, error) {
		return e.rules.selectFor(ctx, owner, trigger)
	}
}

// explicitSelector loads ruleIDs once and hands each owner its own rules.
func (e *Engine) explicitSelector(ctx context.Context, ruleIDs []int64) (selector, error) {
	all, err := e.rules.explicit(ctx, ruleIDs)
	if err != nil {
		return nil, err
	}
	byOwner := make(map[int64][]*compiledRule)
	for _, cr := range all {
		byOwner[cr.OwnerID] = append(byOwner[cr.OwnerID], cr)
	}
	return func(_ context.Context, owner int64) ([]*compiledRule, error) {
		return byOwner[owner], nil
	}, nil
}

type run struct {
	trigger     rules.TriggerType
	dryRun      bool
	report      *Report
	droppedBase int
}

func (e *Engine) newRun(trigger rules.TriggerType) *run {
	return &run{
		trigger: trigger,
		dryRun:  e.dryRun,
		report: &Report{
			RunID:    e.runIDs.Generate(),
			Trigger:  trigger,
			DryRun:   e.dryRun,
			Outcomes: []Outcome{},
		},
		droppedBase: e.logs.dropped,
	}
}

// Process evaluates every transaction against the active rules whose trigger
// type matches, in priority order. TriggerBatch selects every active rule.
//
// Committed mutations are written back into the given transactions. The
// returned error is non-nil only if rule definitions could not be loaded, in
// which case no transaction was evaluated.
func (e *Engine) Process(ctx context.Context, txns []*rules.Transaction, trigger rules.TriggerType) (*Report, error) {
	t, err := rules.ParseTriggerType(string(trigger))
	if err != nil {
		return nil, err
	}
	r := e.newRun(t)
	err = e.runChunk(ctx, r, txns, e.triggerSelector(t))
	e.checkpoint(ctx, r)
	return r.report, err
}

// ProcessForRules evaluates transactions against an explicit rule subset,
// ignoring trigger types and group active flags. Inactive rules and unknown
// ids are skipped. A rule only applies to transactions of its own owner.
func (e *Engine) ProcessForRules(ctx context.Context, txns []*rules.Transaction, ruleIDs []int64) (*Report, error) {
	r := e.newRun(rules.TriggerManual)
	sel, err := e.explicitSelector(ctx, ruleIDs)
	if err != nil {
		return r.report, newError(ErrCodeRuleLoad, "load rules", err)
	}
	err = e.runChunk(ctx, r, txns, sel)
	e.checkpoint(ctx, r)
	return r.report, err
}

// ProcessDateRange streams an owner's transactions booked within [from, to]
// in chunks, flushing logs and trimming caches after each chunk. With
// ruleIDs it behaves like ProcessForRules, otherwise every active rule is
// applied as a batch replay.
//
// Cancelling ctx stops before the next chunk.
func (e *Engine) ProcessDateRange(ctx context.Context, ownerID int64, from, to time.Time, ruleIDs ...int64) (*Report, error) {
	trigger := rules.TriggerBatch
	sel := e.triggerSelector(trigger)
	if len(ruleIDs) > 0 {
		trigger = rules.TriggerManual
		var err error
		if sel, err = e.explicitSelector(ctx, ruleIDs); err != nil {
			return nil, newError(ErrCodeRuleLoad, "load rules", err)
		}
	}
	r := e.newRun(trigger)

	var afterID int64
	for chunk := 1; ; chunk++ {
		if err := ctx.Err(); err != nil {
			return r.report, err
		}
		page, err := e.txns.TransactionPage(ctx, ownerID, from, to, afterID, e.chunkSize)
		if err != nil {
			e.checkpoint(ctx, r)
			return r.report, newError(ErrCodeTransactionLoad, fmt.Sprintf("load chunk %d", chunk), err)
		}
		if len(page) == 0 {
			break
		}
		if err := e.runChunk(ctx, r, page, sel); err != nil {
			e.checkpoint(ctx, r)
			return r.report, err
		}
		e.checkpoint(ctx, r)
		e.logger.Info("chunk processed",
			"run_id", r.report.RunID,
			"chunk", chunk,
			"transactions", len(page),
			"matches", r.report.Matches)

		afterID = page[len(page)-1].ID
		if len(page) < e.chunkSize {
			break
		}
	}
	return r.report, nil
}

// ProcessBatch processes the given transaction ids in chunks of batchSize
// (the configured chunk size when batchSize <= 0). Unknown ids are skipped.
func (e *Engine) ProcessBatch(ctx context.Context, ids []int64, trigger rules.TriggerType, batchSize int) (*Report, error) {
	t, err := rules.ParseTriggerType(string(trigger))
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = e.chunkSize
	}
	r := e.newRun(t)
	sel := e.triggerSelector(t)

	for start, chunk := 0, 1; start < len(ids); start, chunk = start+batchSize, chunk+1 {
		if err := ctx.Err(); err != nil {
			return r.report, err
		}
		end := min(start+batchSize, len(ids))
		txns, err := e.txns.Transactions(ctx, ids[start:end])
		if err != nil {
			e.checkpoint(ctx, r)
			return r.report, newError(ErrCodeTransactionLoad, fmt.Sprintf("load chunk %d", chunk), err)
		}
		if err := e.runChunk(ctx, r, txns, sel); err != nil {
			e.checkpoint(ctx, r)
			return r.report, err
		}
		e.checkpoint(ctx, r)
		e.logger.Info("chunk processed",
			"run_id", r.report.RunID,
			"chunk", chunk,
			"transactions", len(txns),
			"matches", r.report.Matches)
	}
	return r.report, nil
}

// checkpoint flushes buffered logs and trims the field cache.
func (e *Engine) checkpoint(ctx context.Context, r *run) {
	_ = e.logs.flush(ctx)
	e.fields.Clear()
	r.report.LogsDropped = e.logs.dropped - r.droppedBase
}

// runChunk resolves the rule selection of every owner in txns up front, so
// that a load failure aborts before any transaction is touched, then
// evaluates each transaction.
func (e *Engine) runChunk(ctx context.Context, r *run, txns []*rules.Transaction, sel selector) error {
	selections := make(map[int64][]*compiledRule)
	for _, txn := range txns {
		if _, ok := selections[txn.OwnerID]; ok {
			continue
		}
		crs, err := sel(ctx, txn.OwnerID)
		if err != nil {
			return newError(ErrCodeRuleLoad, fmt.Sprintf("select rules for owner %d", txn.OwnerID), err)
		}
		e.logger.Debug("rules selected",
			"owner_id", txn.OwnerID,
			"trigger", r.trigger,
			"rules", len(crs))
		selections[txn.OwnerID] = crs
	}

	for _, txn := range txns {
		e.evaluate(ctx, r, txn, selections[txn.OwnerID])
	}
	return nil
}

// evaluate runs one transaction through its rules in priority order.
func (e *Engine) evaluate(ctx context.Context, r *run, txn *rules.Transaction, sel []*compiledRule) {
	r.report.Transactions++
	lookup := e.fields.lookup(txn)

	for _, cr := range sel {
		r.report.Evaluations++
		if !e.eval.MatchRule(cr.ConditionGroups, lookup) {
			e.logs.record(ctx, e.logRow(r, cr, txn, false))
			continue
		}

		r.report.Matches++
		e.logger.Debug("rule matched",
			"run_id", r.report.RunID,
			"rule_id", cr.ID,
			"transaction_id", txn.ID)
		e.logs.record(ctx, e.logRow(r, cr, txn, true))

		out := e.apply(ctx, r, cr, txn)
		if out.Error != "" {
			r.report.Failures++
		}
		e.logs.attach(cr.ID, txn.ID, out.executed(), out.Error)
		r.report.Outcomes = append(r.report.Outcomes, out)

		if cr.StopProcessing {
			break
		}
	}
}

// apply runs a matched rule's actions inside one unit of work. Any failure
// rolls back every mutation of this rule and leaves txn untouched. On commit
// the mutations are copied into txn so later rules observe them.
func (e *Engine) apply(ctx context.Context, r *run, cr *compiledRule, txn *rules.Transaction) (out Outcome) {
	out = Outcome{
		RuleID:        cr.ID,
		RuleName:      cr.Name,
		TransactionID: txn.ID,
		Actions:       []ActionOutcome{},
	}
	if len(cr.actions) == 0 {
		return out
	}

	tx, err := e.uow.Begin(ctx)
	if err != nil {
		e.fail(&out, &Error{Code: ErrCodeTxBegin, Message: "begin unit of work", RuleID: cr.ID, TransactionID: txn.ID, Err: err})
		return out
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			e.fail(&out, &Error{Code: ErrCodeActionFailed, Message: fmt.Sprintf("panic: %v", p), RuleID: cr.ID, TransactionID: txn.ID})
			out.Committed = false
			committed = false
		}
		if !committed {
			if err := tx.Rollback(); err != nil {
				e.logger.Warn("rollback failed", "rule_id", cr.ID, "transaction_id", txn.ID, "error", err)
			}
		}
	}()

	work := txn.Clone()
	if err := e.runActions(ctx, tx, cr, work, &out); err != nil {
		e.fail(&out, err)
		return out
	}
	if r.dryRun {
		return out
	}

	if err := tx.Commit(); err != nil {
		e.fail(&out, &Error{Code: ErrCodeTxCommit, Message: "commit unit of work", RuleID: cr.ID, TransactionID: txn.ID, Err: err})
		return out
	}
	committed = true
	out.Committed = true
	*txn = *work
	e.fields.invalidate(txn.ID)
	return out
}

func (e *Engine) runActions(ctx context.Context, tx action.Tx, cr *compiledRule, work *rules.Transaction, out *Outcome) *Error {
	for _, pa := range cr.actions {
		ao := ActionOutcome{Type: pa.spec.Type, Description: pa.describe()}
		if pa.err != nil {
			ao.Error = pa.err.Error()
			out.Actions = append(out.Actions, ao)
			return &Error{
				Code:          ErrCodeInvalidAction,
				Message:       fmt.Sprintf("action %d", pa.spec.ID),
				RuleID:        cr.ID,
				TransactionID: work.ID,
				Err:           pa.err,
			}
		}
		if err := e.exec.Execute(ctx, tx, pa.act, work); err != nil {
			ao.Error = err.Error()
			out.Actions = append(out.Actions, ao)
			return &Error{
				Code:          ErrCodeActionFailed,
				Message:       fmt.Sprintf("%s failed", pa.spec.Type),
				RuleID:        cr.ID,
				TransactionID: work.ID,
				Err:           err,
			}
		}
		ao.Applied = true
		out.Actions = append(out.Actions, ao)
		if pa.spec.StopProcessing {
			break
		}
	}
	return nil
}

func (e *Engine) fail(out *Outcome, err *Error) {
	out.Error = err.Error()
	e.logger.Warn("rule actions rolled back",
		"rule_id", err.RuleID,
		"transaction_id", err.TransactionID,
		"code", err.Code,
		"error", err)
}

func (e *Engine) logRow(r *run, cr *compiledRule, txn *rules.Transaction, matched bool) rules.ExecutionLog {
	return rules.ExecutionLog{
		RuleID:          cr.ID,
		TransactionID:   txn.ID,
		Matched:         matched,
		ActionsExecuted: []string{},
		Context: rules.ExecutionContext{
			RunID:   r.report.RunID,
			Trigger: r.trigger,
			DryRun:  r.dryRun,
		},
		CreatedAt: e.clock.Now(),
	}
}

// executed lists the descriptions of applied actions, or nothing when the
// rule's unit of work failed.
func (o Outcome) executed() []string {
	list := []string{}
	if o.Error != "" {
		return list
	}
	for _, a := range o.Actions {
		if a.Applied {
			list = append(list, a.Description)
		}
	}
	return list
}
