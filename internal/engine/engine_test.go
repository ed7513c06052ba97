package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/action"
	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/rules"
	"github.com/roach88/tally/internal/store"
	"github.com/roach88/tally/internal/testutil"
)

var logStart = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, s *store.Store, opts ...engine.Option) *engine.Engine {
	t.Helper()
	base := []engine.Option{
		engine.WithLogSink(s),
		engine.WithClock(engine.NewStepClock(logStart, time.Second)),
		engine.WithRunIDGenerator(engine.NewFixedGenerator("run-1", "run-2", "run-3")),
		engine.WithFlushRetries(1, 0),
	}
	e, err := engine.New(s, s, s, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func runLogs(t *testing.T, s *store.Store, runID string) []rules.ExecutionLog {
	t.Helper()
	logs, err := s.ExecutionLogs(context.Background(), store.LogFilter{RunID: runID})
	require.NoError(t, err)
	return logs
}

func TestProcess_SetsCategoryOnMatch(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldDescription, rules.OpContains, "SUPERMARKET")),
			testutil.Do(rules.ActionSetCategory, "3")),
		testutil.Rule(12, 2, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldDescription, rules.OpContains, "AIRLINE")),
			testutil.Do(rules.ActionSetCategory, "5")),
	))
	e := newEngine(t, s)
	ctx := context.Background()

	txns := testutil.Load(t, s, 101)
	report, err := e.Process(ctx, txns, rules.TriggerCreated)
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 1, report.Transactions)
	assert.Equal(t, 2, report.Evaluations)
	assert.Equal(t, 1, report.Matches)
	assert.Zero(t, report.Failures)
	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].Committed)

	require.NotNil(t, txns[0].Category)
	assert.Equal(t, "Groceries", txns[0].Category.Name)

	persisted, err := s.Transaction(ctx, 101)
	require.NoError(t, err)
	require.NotNil(t, persisted.Category)
	assert.Equal(t, int64(3), persisted.Category.ID)

	logs := runLogs(t, s, "run-1")
	require.Len(t, logs, 2)
	assert.Equal(t, int64(11), logs[0].RuleID)
	assert.True(t, logs[0].Matched)
	assert.Equal(t, []string{"Set category to #3"}, logs[0].ActionsExecuted)
	assert.Equal(t, rules.TriggerCreated, logs[0].Context.Trigger)
	assert.True(t, logStart.Equal(logs[0].CreatedAt))
	assert.Equal(t, int64(12), logs[1].RuleID)
	assert.False(t, logs[1].Matched)
	assert.Empty(t, logs[1].ActionsExecuted)
}

func TestProcess_AnyGroupMatches(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			[]rules.ConditionGroup{
				{Logic: rules.LogicAnd, Conditions: []rules.Condition{
					testutil.Cond(rules.FieldDescription, rules.OpRegex, "/(AIRLINE|AIRWAYS)/i"),
				}},
				{Logic: rules.LogicAnd, Conditions: []rules.Condition{
					testutil.Cond(rules.FieldDescription, rules.OpContains, "HOTEL"),
				}},
			},
			testutil.Do(rules.ActionAddTag, "10")),
	))
	e := newEngine(t, s)

	txns := testutil.Load(t, s, 101, 102)
	report, err := e.Process(context.Background(), txns, rules.TriggerCreated)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Matches)
	assert.Empty(t, txns[0].Tags)
	assert.Equal(t, []string{"business"}, txns[1].TagNames())
}

func TestProcess_StopProcessingEndsEvaluation(t *testing.T) {
	s := testutil.OpenStore(t)
	first := testutil.Rule(11, 1, rules.TriggerCreated,
		testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "50")),
		testutil.Do(rules.ActionSetCategory, "3"))
	first.StopProcessing = true
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		first,
		testutil.Rule(12, 2, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "10")),
			testutil.Do(rules.ActionSetCategory, "5")),
	))
	e := newEngine(t, s)

	txns := testutil.Load(t, s, 103, 101)
	report, err := e.Process(context.Background(), txns, rules.TriggerCreated)
	require.NoError(t, err)

	// 103 (amount 100) stops after rule 11; 101 (amount 42.50) only matches rule 12.
	assert.Equal(t, int64(3), txns[0].Category.ID)
	assert.Equal(t, int64(5), txns[1].Category.ID)
	assert.Equal(t, 3, report.Evaluations)

	logs := runLogs(t, s, "run-1")
	var forStopped []int64
	for _, l := range logs {
		if l.TransactionID == 103 {
			forStopped = append(forStopped, l.RuleID)
		}
	}
	assert.Equal(t, []int64{11}, forStopped)
}

func TestProcess_PriorityOrderAndVisibility(t *testing.T) {
	s := testutil.OpenStore(t)
	// Group 2 sorts before group 1, so rule 21 runs first and rule 11 sees
	// its description change.
	testutil.Seed(t, s,
		testutil.Group(1, 1, 2,
			testutil.Rule(11, 1, rules.TriggerCreated,
				testutil.All(testutil.Cond(rules.FieldDescription, rules.OpEquals, "weekly groceries")),
				testutil.Do(rules.ActionAddTag, "10"))),
		testutil.Group(2, 1, 1,
			testutil.Rule(21, 5, rules.TriggerCreated,
				testutil.All(testutil.Cond(rules.FieldDescription, rules.OpStartsWith, "supermarket")),
				testutil.Do(rules.ActionSetDescription, "Weekly groceries"))),
	)
	e := newEngine(t, s)

	txns := testutil.Load(t, s, 101)
	report, err := e.Process(context.Background(), txns, rules.TriggerCreated)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, int64(21), report.Outcomes[0].RuleID)
	assert.Equal(t, int64(11), report.Outcomes[1].RuleID)
	assert.Equal(t, "Weekly groceries", txns[0].Description)
	assert.True(t, txns[0].HasTag(10))
}

func TestProcess_DryRunLeavesTransactionUnchanged(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldDescription, rules.OpContains, "SUPERMARKET")),
			testutil.Do(rules.ActionSetCategory, "3"),
			testutil.Do(rules.ActionCreateTag, "weekly")),
	))
	e := newEngine(t, s)
	e.SetDryRun(true)
	ctx := context.Background()

	txns := testutil.Load(t, s, 101)
	report, err := e.Process(ctx, txns, rules.TriggerCreated)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.False(t, out.Committed)
	assert.Empty(t, out.Error)
	require.Len(t, out.Actions, 2)
	assert.True(t, out.Actions[0].Applied)
	assert.Equal(t, "Set category to #3", out.Actions[0].Description)

	assert.Nil(t, txns[0].Category)
	assert.Empty(t, txns[0].Tags)

	persisted, err := s.Transaction(ctx, 101)
	require.NoError(t, err)
	assert.Nil(t, persisted.Category)
	assert.Empty(t, persisted.Tags)

	logs := runLogs(t, s, "run-1")
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Context.DryRun)
	assert.Len(t, logs[0].ActionsExecuted, 2)
}

func TestProcess_FailedActionRollsBackRule(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldDescription, rules.OpContains, "SUPERMARKET")),
			testutil.Do(rules.ActionSetDescription, "changed"),
			testutil.Do(rules.ActionSetCategory, "4")), // owned by owner 2
		testutil.Rule(12, 2, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldDescription, rules.OpContains, "SUPERMARKET")),
			testutil.Do(rules.ActionAddTag, "10")),
	))
	e := newEngine(t, s)
	ctx := context.Background()

	txns := testutil.Load(t, s, 101)
	report, err := e.Process(ctx, txns, rules.TriggerCreated)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Matches)
	assert.Equal(t, 1, report.Failures)
	require.Len(t, report.Outcomes, 2)
	failed := report.Outcomes[0]
	assert.False(t, failed.Committed)
	assert.Contains(t, failed.Error, string(engine.ErrCodeActionFailed))
	assert.Contains(t, failed.Error, action.ErrCrossOwner.Error())
	require.Len(t, failed.Actions, 2)
	assert.True(t, failed.Actions[0].Applied)
	assert.False(t, failed.Actions[1].Applied)

	persisted, err := s.Transaction(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "SUPERMARKET PURCHASE", persisted.Description)
	assert.Equal(t, "SUPERMARKET PURCHASE", txns[0].Description)
	assert.True(t, persisted.HasTag(10), "later rule still applies")

	logs := runLogs(t, s, "run-1")
	require.Len(t, logs, 2)
	assert.NotEmpty(t, logs[0].Error)
	assert.Empty(t, logs[0].ActionsExecuted)
	assert.Empty(t, logs[1].Error)
}

func TestProcess_InvalidStoredActionFailsRule(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")),
			testutil.Do(rules.ActionSetCategory, "groceries")),
	))
	e := newEngine(t, s)

	report, err := e.Process(context.Background(), testutil.Load(t, s, 101), rules.TriggerCreated)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 1)
	assert.Contains(t, report.Outcomes[0].Error, string(engine.ErrCodeInvalidAction))
	assert.Equal(t, `Invalid action set_category("groceries")`, report.Outcomes[0].Actions[0].Description)
}

func TestProcess_ActionStopProcessingSkipsRemainingActions(t *testing.T) {
	s := testutil.OpenStore(t)
	stop := testutil.Do(rules.ActionSetCategory, "3")
	stop.StopProcessing = true
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")),
			stop,
			testutil.Do(rules.ActionAddTag, "10")),
		testutil.Rule(12, 2, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")),
			testutil.Do(rules.ActionMarkReconciled, "")),
	))
	e := newEngine(t, s)

	txns := testutil.Load(t, s, 101)
	report, err := e.Process(context.Background(), txns, rules.TriggerCreated)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.Len(t, report.Outcomes[0].Actions, 1)
	assert.Equal(t, int64(3), txns[0].Category.ID)
	assert.Empty(t, txns[0].Tags)
	assert.True(t, txns[0].Reconciled, "other rules are unaffected")
}

func TestProcess_SelectsByTriggerAndActiveFlags(t *testing.T) {
	s := testutil.OpenStore(t)
	inactiveRule := testutil.Rule(13, 3, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionSetNote, "inactive rule"))
	inactiveRule.Active = false
	inactiveGroup := testutil.Group(2, 1, 2,
		testutil.Rule(21, 1, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionSetNote, "inactive group")))
	inactiveGroup.Active = false
	testutil.Seed(t, s,
		testutil.Group(1, 1, 1,
			testutil.Rule(11, 1, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionAppendNote, "created")),
			testutil.Rule(12, 2, rules.TriggerUpdated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionAppendNote, "updated")),
			inactiveRule),
		inactiveGroup,
	)
	e := newEngine(t, s)
	ctx := context.Background()

	txns := testutil.Load(t, s, 101)
	_, err := e.Process(ctx, txns, rules.TriggerCreated)
	require.NoError(t, err)
	assert.Equal(t, "created", txns[0].Note)

	_, err = e.Process(ctx, txns, rules.TriggerUpdated)
	require.NoError(t, err)
	assert.Equal(t, "created updated", txns[0].Note)

	report, err := e.Process(ctx, txns, rules.TriggerBatch)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evaluations, "batch selects every active rule")
}

func TestProcess_ReplayIsIdempotent(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldDescription, rules.OpContains, "SUPERMARKET")),
			testutil.Do(rules.ActionSetCategory, "3"),
			testutil.Do(rules.ActionAddTag, "10"),
			testutil.Do(rules.ActionPrependDescription, "[auto]")),
	))
	e := newEngine(t, s)
	ctx := context.Background()

	_, err := e.Process(ctx, testutil.Load(t, s, 101), rules.TriggerCreated)
	require.NoError(t, err)
	first, err := s.Transaction(ctx, 101)
	require.NoError(t, err)

	_, err = e.Process(ctx, testutil.Load(t, s, 101), rules.TriggerCreated)
	require.NoError(t, err)
	second, err := s.Transaction(ctx, 101)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "[auto] SUPERMARKET PURCHASE", second.Description)
	assert.Len(t, second.Tags, 1)
}

func TestProcess_CreateActionsPersistEntities(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldDescription, rules.OpContains, "PARKING")),
			testutil.Do(rules.ActionCreateCategory, "Transport"),
			testutil.Do(rules.ActionCreateTag, "BUSINESS")),
	))
	e := newEngine(t, s)
	ctx := context.Background()

	txns := testutil.Load(t, s, 103)
	_, err := e.Process(ctx, txns, rules.TriggerCreated)
	require.NoError(t, err)

	persisted, err := s.Transaction(ctx, 103)
	require.NoError(t, err)
	require.NotNil(t, persisted.Category)
	assert.Equal(t, "Transport", persisted.Category.Name)
	// Existing tag found case-insensitively.
	assert.Equal(t, []string{"business"}, persisted.TagNames())
	assert.Equal(t, persisted.Category, txns[0].Category)
}

func TestProcess_SendsNotifications(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThanOrEqual, "300")),
			testutil.Do(rules.ActionSendNotification, "Large purchase")),
	))

	var got []string
	notifier := action.NotifierFunc(func(_ context.Context, ownerID, txnID int64, message string) error {
		got = append(got, message)
		assert.Equal(t, int64(1), ownerID)
		assert.Equal(t, int64(102), txnID)
		return nil
	})
	e := newEngine(t, s, engine.WithNotifier(notifier))

	_, err := e.Process(context.Background(), testutil.Load(t, s, 101, 102, 103), rules.TriggerCreated)
	require.NoError(t, err)
	assert.Equal(t, []string{"Large purchase"}, got)
}

func TestProcess_RejectsUnknownTrigger(t *testing.T) {
	s := testutil.OpenStore(t)
	e := newEngine(t, s)

	_, err := e.Process(context.Background(), nil, rules.TriggerType("deleted"))
	assert.Error(t, err)
}

// brokenRules fails every rule group read.
type brokenRules struct{ *store.Store }

func (brokenRules) RuleGroups(context.Context, int64) ([]rules.RuleGroup, error) {
	return nil, errors.New("database is locked")
}

func TestProcess_RuleLoadFailureAbortsRun(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s)
	e, err := engine.New(brokenRules{s}, s, s, engine.WithRunIDGenerator(engine.NewFixedGenerator("run-1")))
	require.NoError(t, err)

	report, err := e.Process(context.Background(), testutil.Load(t, s, 101), rules.TriggerCreated)
	require.Error(t, err)
	assert.True(t, engine.IsCode(err, engine.ErrCodeRuleLoad))
	assert.Zero(t, report.Transactions)
}

// brokenUnitOfWork refuses to open transactions.
type brokenUnitOfWork struct{}

func (brokenUnitOfWork) Begin(context.Context) (action.Tx, error) {
	return nil, errors.New("too many connections")
}

func TestProcess_BeginFailureIsContained(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")),
			testutil.Do(rules.ActionMarkReconciled, "")),
	))
	e, err := engine.New(s, s, brokenUnitOfWork{}, engine.WithRunIDGenerator(engine.NewFixedGenerator("run-1")))
	require.NoError(t, err)

	report, err := e.Process(context.Background(), testutil.Load(t, s, 101, 102), rules.TriggerCreated)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failures)
	assert.Contains(t, report.Outcomes[0].Error, string(engine.ErrCodeTxBegin))
}

func TestProcessForRules_ExplicitSubset(t *testing.T) {
	s := testutil.OpenStore(t)
	inactive := testutil.Rule(12, 2, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionAddTag, "10"))
	inactive.Active = false
	g := testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerUpdated, testutil.All(testutil.Cond(rules.FieldDescription, rules.OpContains, "SUPERMARKET")), testutil.Do(rules.ActionSetCategory, "3")),
		inactive,
	)
	g.Active = false
	testutil.Seed(t, s, g)
	e := newEngine(t, s)

	txns := testutil.Load(t, s, 101, 201)
	report, err := e.ProcessForRules(context.Background(), txns, []int64{11, 12, 999})
	require.NoError(t, err)

	assert.Equal(t, rules.TriggerManual, report.Trigger)
	assert.Equal(t, 1, report.Evaluations, "owner 2 gets no rules of owner 1")
	assert.Equal(t, int64(3), txns[0].Category.ID)
	assert.Empty(t, txns[0].Tags, "inactive rule is skipped")
	assert.Nil(t, txns[1].Category)

	logs := runLogs(t, s, "run-1")
	require.Len(t, logs, 1)
	assert.Equal(t, rules.TriggerManual, logs[0].Context.Trigger)
}

func TestProcessDateRange_StreamsChunks(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")),
			testutil.Do(rules.ActionAddTag, "10")),
	))
	e := newEngine(t, s, engine.WithChunkSize(2))
	ctx := context.Background()

	report, err := e.ProcessDateRange(ctx, 1, testutil.Day(1), testutil.Day(31))
	require.NoError(t, err)
	assert.Equal(t, rules.TriggerBatch, report.Trigger)
	assert.Equal(t, 3, report.Transactions)
	assert.Equal(t, 3, report.Matches)
	assert.Len(t, runLogs(t, s, "run-1"), 3)

	for _, txn := range testutil.Load(t, s, 101, 102, 103) {
		assert.True(t, txn.HasTag(10), "transaction %d", txn.ID)
	}
	untouched, err := s.Transaction(ctx, 201)
	require.NoError(t, err)
	assert.Empty(t, untouched.Tags)
}

func TestProcessDateRange_WindowAndExplicitRules(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")),
			testutil.Do(rules.ActionMarkReconciled, "")),
	))
	e := newEngine(t, s)

	report, err := e.ProcessDateRange(context.Background(), 1, testutil.Day(4), testutil.Day(6), 11)
	require.NoError(t, err)
	assert.Equal(t, rules.TriggerManual, report.Trigger)
	assert.Equal(t, 1, report.Transactions)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, int64(102), report.Outcomes[0].TransactionID)
}

// brokenPages fails every page read.
type brokenPages struct{ *store.Store }

func (brokenPages) TransactionPage(context.Context, int64, time.Time, time.Time, int64, int) ([]*rules.Transaction, error) {
	return nil, errors.New("disk I/O error")
}

func TestProcessDateRange_PageLoadFailure(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s)
	e, err := engine.New(s, brokenPages{s}, s, engine.WithRunIDGenerator(engine.NewFixedGenerator("run-1")))
	require.NoError(t, err)

	report, err := e.ProcessDateRange(context.Background(), 1, time.Time{}, time.Time{})
	require.Error(t, err)
	assert.True(t, engine.IsCode(err, engine.ErrCodeTransactionLoad))
	require.NotNil(t, report)
}

func TestProcessDateRange_StopsOnCancel(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s)
	e := newEngine(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := e.ProcessDateRange(ctx, 1, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Transactions)
}

func TestProcessBatch_LoadsByID(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerUpdated,
			testutil.All(testutil.Cond(rules.FieldAmount, rules.OpBetween, "10,100")),
			testutil.Do(rules.ActionSetType, "transfer")),
	))
	e := newEngine(t, s)
	ctx := context.Background()

	report, err := e.ProcessBatch(ctx, []int64{101, 102, 103, 999}, rules.TriggerUpdated, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Transactions)
	assert.Equal(t, 2, report.Matches)

	txns := testutil.Load(t, s, 101, 102, 103)
	assert.Equal(t, rules.TypeTransfer, txns[0].Type)
	assert.Equal(t, rules.TypeExpense, txns[1].Type)
	assert.Equal(t, rules.TypeTransfer, txns[2].Type)
}

// recordingSink counts flushes and can be told to fail.
type recordingSink struct {
	mu      sync.Mutex
	fail    bool
	calls   int
	batches [][]rules.ExecutionLog
}

func (s *recordingSink) AppendExecutionLogs(_ context.Context, logs []rules.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("audit database unavailable")
	}
	s.batches = append(s.batches, logs)
	return nil
}

func TestEngine_BatchesExecutionLogs(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionMarkReconciled, "")),
		testutil.Rule(12, 2, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpLessThan, "0")), testutil.Do(rules.ActionMarkReconciled, "")),
	))
	sink := &recordingSink{}
	e := newEngine(t, s, engine.WithLogSink(sink), engine.WithLogBatchSize(4))

	_, err := e.Process(context.Background(), testutil.Load(t, s, 101, 102, 103), rules.TriggerCreated)
	require.NoError(t, err)

	// Six rows: one threshold flush of four, one end-of-run flush of two.
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[0], 4)
	assert.Len(t, sink.batches[1], 2)
	assert.Empty(t, runLogs(t, s, "run-1"), "store sink was replaced")
}

func TestEngine_DropsLogsAfterRetries(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionMarkReconciled, "")),
	))
	sink := &recordingSink{fail: true}
	e := newEngine(t, s, engine.WithLogSink(sink), engine.WithFlushRetries(3, time.Millisecond))

	txns := testutil.Load(t, s, 101, 102)
	report, err := e.Process(context.Background(), txns, rules.TriggerCreated)
	require.NoError(t, err, "log failures never fail the run")

	assert.Equal(t, 3, sink.calls)
	assert.Equal(t, 2, report.LogsDropped)
	assert.True(t, txns[0].Reconciled)
	assert.True(t, txns[1].Reconciled)
}

func TestEngine_SetLoggingDisablesWrites(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionMarkReconciled, "")),
	))
	e := newEngine(t, s)
	e.SetLogging(false)

	report, err := e.Process(context.Background(), testutil.Load(t, s, 101), rules.TriggerCreated)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matches)
	assert.Empty(t, runLogs(t, s, "run-1"))
}

func TestEngine_ClearCachesPicksUpRuleChanges(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionAppendNote, "one")),
	))
	e := newEngine(t, s)
	ctx := context.Background()

	_, err := e.Process(ctx, testutil.Load(t, s, 101), rules.TriggerCreated)
	require.NoError(t, err)

	_, err = s.Import(ctx, store.ImportData{RuleGroups: []rules.RuleGroup{testutil.Group(1, 1, 1,
		testutil.Rule(11, 1, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionAppendNote, "one")),
		testutil.Rule(12, 2, rules.TriggerCreated, testutil.All(testutil.Cond(rules.FieldAmount, rules.OpGreaterThan, "0")), testutil.Do(rules.ActionAppendNote, "two")),
	)}})
	require.NoError(t, err)

	txns := testutil.Load(t, s, 101)
	_, err = e.Process(ctx, txns, rules.TriggerCreated)
	require.NoError(t, err)
	assert.Equal(t, "one", txns[0].Note, "cached selection still in use")

	stats := e.CacheStats()
	names := make([]string, 0, len(stats))
	for _, st := range stats {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"engine.rules", "engine.fields", "store.entities"}, names)
	assert.Equal(t, 1, stats[0].Entries)
	assert.Positive(t, stats[0].Hits)

	e.ClearCaches()
	assert.Zero(t, e.CacheStats()[0].Entries)

	_, err = e.Process(ctx, txns, rules.TriggerCreated)
	require.NoError(t, err)
	assert.Equal(t, "one two", txns[0].Note)
}
