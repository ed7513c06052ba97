package dispatch

import (
	"context"
	"log/slog"

	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/rules"
)

// DefaultBatchSize caps how many queued events one engine call handles.
const DefaultBatchSize = 100

// Processor runs transactions through the rule engine. *engine.Engine
// implements it.
type Processor interface {
	ProcessBatch(ctx context.Context, ids []int64, trigger rules.TriggerType, batchSize int) (*engine.Report, error)
}

// Dispatcher serializes lifecycle events into engine calls.
//
// Notify and Enqueue may be called from any goroutine. Run and Drain hand
// events to the Processor from the calling goroutine only, so an engine that
// is not safe for concurrent use sees one call at a time as long as Run and
// Drain are not called concurrently.
type Dispatcher struct {
	queue     *eventQueue
	proc      Processor
	logger    *slog.Logger
	batchSize int
	onReport  func(*engine.Report)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithBatchSize caps the number of events coalesced into one engine call.
//
// Default: 100 (DefaultBatchSize)
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithReportHandler receives the report of every engine call.
func WithReportHandler(fn func(*engine.Report)) Option {
	return func(d *Dispatcher) {
		d.onReport = fn
	}
}

// New creates a Dispatcher feeding proc.
func New(proc Processor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:     newEventQueue(),
		proc:      proc,
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify enqueues a lifecycle event. Its signature matches store.ChangeFunc
// so it can be registered with Store.OnTransactionChange directly.
func (d *Dispatcher) Notify(_ context.Context, transactionID int64, trigger rules.TriggerType) {
	if !d.Enqueue(Event{TransactionID: transactionID, Trigger: trigger}) {
		d.logger.Warn("event dropped: dispatcher stopped",
			"transaction_id", transactionID,
			"trigger", trigger)
	}
}

// Enqueue adds an event. Returns false after Stop.
func (d *Dispatcher) Enqueue(ev Event) bool {
	return d.queue.Enqueue(ev)
}

// Len returns the number of queued events.
func (d *Dispatcher) Len() int {
	return d.queue.Len()
}

// Run processes events until ctx is cancelled or Stop is called.
//
// A failed engine call is logged with the affected transaction ids and
// processing continues with the next batch.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher starting")

	for {
		if batch := d.queue.TakeBatch(d.batchSize); len(batch) > 0 {
			d.process(ctx, batch)
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping: context cancelled")
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// makes this case fire immediately.
			if d.queue.Len() == 0 && d.stopped() {
				d.logger.Info("dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain processes every queued event and returns once the queue is empty.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := d.queue.TakeBatch(d.batchSize)
		if len(batch) == 0 {
			return nil
		}
		d.process(ctx, batch)
	}
}

// Stop closes the queue. Run returns once the queued events are processed.
func (d *Dispatcher) Stop() {
	d.queue.Close()
}

func (d *Dispatcher) stopped() bool {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	return d.queue.closed
}

func (d *Dispatcher) process(ctx context.Context, batch []Event) {
	trigger := batch[0].Trigger
	ids := make([]int64, 0, len(batch))
	seen := make(map[int64]bool, len(batch))
	for _, ev := range batch {
		if !seen[ev.TransactionID] {
			seen[ev.TransactionID] = true
			ids = append(ids, ev.TransactionID)
		}
	}

	report, err := d.proc.ProcessBatch(ctx, ids, trigger, len(ids))
	if err != nil {
		// Log and continue: the ids let an operator replay the batch.
		d.logger.Error("event processing failed",
			"error", err,
			"trigger", trigger,
			"transaction_ids", ids)
	}
	if report == nil {
		return
	}
	d.logger.Debug("events processed",
		"run_id", report.RunID,
		"trigger", trigger,
		"transactions", report.Transactions,
		"matches", report.Matches,
		"failures", report.Failures)
	if d.onReport != nil {
		d.onReport(report)
	}
}
