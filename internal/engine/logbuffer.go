package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go"

	"github.com/roach88/tally/internal/rules"
)

// logBuffer accumulates execution-log rows and writes them in batches.
// Writing is best effort: a batch that still fails after the retry budget
// is reported to the operational log and dropped.
type logBuffer struct {
	sink      LogSink
	logger    *slog.Logger
	threshold int
	attempts  uint
	delay     time.Duration

	enabled bool
	pending []rules.ExecutionLog
	written int
	dropped int
}

// record buffers l. The buffer is flushed before l is appended once it has
// reached the threshold, so the newest row stays available to attach.
func (b *logBuffer) record(ctx context.Context, l rules.ExecutionLog) {
	if !b.active() {
		return
	}
	if len(b.pending) >= b.threshold {
		_ = b.flush(ctx)
	}
	b.pending = append(b.pending, l)
}

// attach sets the executed actions and error of the most recent buffered
// row for (ruleID, txnID). It reports false when no such row is buffered.
func (b *logBuffer) attach(ruleID, txnID int64, actions []string, errMsg string) bool {
	for i := len(b.pending) - 1; i >= 0; i-- {
		l := &b.pending[i]
		if l.RuleID == ruleID && l.TransactionID == txnID {
			l.ActionsExecuted = actions
			l.Error = errMsg
			return true
		}
	}
	return false
}

// flush writes every pending row. On failure the rows are dropped and the
// returned error carries ErrCodeLogWrite.
func (b *logBuffer) flush(ctx context.Context) error {
	if len(b.pending) == 0 || b.sink == nil {
		return nil
	}
	batch := b.pending
	b.pending = nil

	err := retry.Do(
		func() error {
			return b.sink.AppendExecutionLogs(ctx, batch)
		},
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Warn("execution log flush failed, will retry",
				"attempt", n+1,
				"rows", len(batch),
				"error", err)
		}),
		retry.Attempts(b.attempts),
		retry.Delay(b.delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		b.dropped += len(batch)
		b.logger.Error("execution log rows dropped",
			"rows", len(batch),
			"error", err)
		return newError(ErrCodeLogWrite, "flush execution logs", err)
	}

	b.written += len(batch)
	b.logger.Info("execution logs flushed", "rows", len(batch))
	return nil
}

func (b *logBuffer) active() bool {
	return b.enabled && b.sink != nil
}

// discard drops pending rows without writing them.
func (b *logBuffer) discard() {
	b.pending = nil
}
