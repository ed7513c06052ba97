package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/rules"
)

// flakySink fails its first failures calls.
type flakySink struct {
	failures int
	err      error
	calls    int
	written  []rules.ExecutionLog
}

func (s *flakySink) AppendExecutionLogs(_ context.Context, logs []rules.ExecutionLog) error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	s.written = append(s.written, logs...)
	return nil
}

func newTestBuffer(sink LogSink, threshold int, attempts uint) *logBuffer {
	return &logBuffer{
		sink:      sink,
		logger:    slog.Default(),
		threshold: threshold,
		attempts:  attempts,
		delay:     time.Millisecond,
		enabled:   true,
	}
}

func row(ruleID, txnID int64) rules.ExecutionLog {
	return rules.ExecutionLog{RuleID: ruleID, TransactionID: txnID, Matched: true, ActionsExecuted: []string{}}
}

func TestLogBuffer_FlushesAtThreshold(t *testing.T) {
	sink := &flakySink{}
	b := newTestBuffer(sink, 2, 1)
	ctx := context.Background()

	b.record(ctx, row(1, 1))
	b.record(ctx, row(1, 2))
	assert.Zero(t, sink.calls)

	b.record(ctx, row(1, 3))
	assert.Equal(t, 1, sink.calls)
	assert.Len(t, sink.written, 2)
	assert.Len(t, b.pending, 1, "newest row stays buffered")

	require.NoError(t, b.flush(ctx))
	assert.Len(t, sink.written, 3)
	assert.Equal(t, 3, b.written)
}

func TestLogBuffer_AttachUpdatesNewestRow(t *testing.T) {
	b := newTestBuffer(&flakySink{}, 10, 1)
	ctx := context.Background()

	b.record(ctx, row(1, 1))
	b.record(ctx, row(1, 1))

	assert.True(t, b.attach(1, 1, []string{"Mark as reconciled"}, ""))
	assert.Empty(t, b.pending[0].ActionsExecuted)
	assert.Equal(t, []string{"Mark as reconciled"}, b.pending[1].ActionsExecuted)

	assert.False(t, b.attach(2, 1, nil, "boom"))
}

func TestLogBuffer_RetriesThenSucceeds(t *testing.T) {
	sink := &flakySink{failures: 2, err: errors.New("database is locked")}
	b := newTestBuffer(sink, 10, 3)
	ctx := context.Background()

	b.record(ctx, row(1, 1))
	require.NoError(t, b.flush(ctx))
	assert.Equal(t, 3, sink.calls)
	assert.Len(t, sink.written, 1)
	assert.Zero(t, b.dropped)
}

func TestLogBuffer_DropsAfterRetryBudget(t *testing.T) {
	sink := &flakySink{failures: 10, err: errors.New("database is locked")}
	b := newTestBuffer(sink, 10, 2)
	ctx := context.Background()

	b.record(ctx, row(1, 1))
	b.record(ctx, row(1, 2))
	err := b.flush(ctx)

	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeLogWrite))
	assert.Equal(t, 2, sink.calls)
	assert.Equal(t, 2, b.dropped)
	assert.Empty(t, b.pending)
}

func TestLogBuffer_DoesNotRetryCancellation(t *testing.T) {
	sink := &flakySink{failures: 10, err: context.Canceled}
	b := newTestBuffer(sink, 10, 5)
	ctx := context.Background()

	b.record(ctx, row(1, 1))
	assert.Error(t, b.flush(ctx))
	assert.Equal(t, 1, sink.calls)
}

func TestLogBuffer_Inactive(t *testing.T) {
	ctx := context.Background()

	noSink := newTestBuffer(nil, 10, 1)
	noSink.record(ctx, row(1, 1))
	assert.Empty(t, noSink.pending)
	assert.NoError(t, noSink.flush(ctx))

	sink := &flakySink{}
	disabled := newTestBuffer(sink, 10, 1)
	disabled.enabled = false
	disabled.record(ctx, row(1, 1))
	assert.Empty(t, disabled.pending)
}

func TestError_Format(t *testing.T) {
	cause := errors.New("no such table")

	err := &Error{Code: ErrCodeRuleLoad, Message: "load rules", Err: cause}
	assert.Equal(t, "RULE_LOAD: load rules: no such table", err.Error())
	assert.ErrorIs(t, err, cause)

	scoped := &Error{Code: ErrCodeActionFailed, Message: "add_tag failed", RuleID: 4, TransactionID: 9}
	assert.Equal(t, "ACTION_FAILED: add_tag failed (rule=4, transaction=9)", scoped.Error())

	wrapped := errors.Join(errors.New("context"), scoped)
	assert.True(t, IsCode(wrapped, ErrCodeActionFailed))
	assert.False(t, IsCode(wrapped, ErrCodeRuleLoad))
	assert.False(t, IsCode(cause, ErrCodeRuleLoad))
}
