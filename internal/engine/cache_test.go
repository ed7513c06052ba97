package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/rules"
)

// fakeRules serves rule definitions from memory and counts reads.
type fakeRules struct {
	groups  []rules.RuleGroup
	conds   map[int64][]rules.ConditionGroup
	actions map[int64][]rules.ActionSpec

	groupReads  int
	detailReads int
}

func (f *fakeRules) RuleGroups(_ context.Context, owner int64) ([]rules.RuleGroup, error) {
	f.groupReads++
	var out []rules.RuleGroup
	for _, g := range f.groups {
		if g.OwnerID == owner {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeRules) Rules(_ context.Context, ids []int64) ([]rules.Rule, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []rules.Rule
	for _, g := range f.groups {
		for _, r := range g.Rules {
			if want[r.ID] {
				r.OwnerID = g.OwnerID
				r.GroupOrder = g.Order
				r.GroupActive = g.Active
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (f *fakeRules) ConditionGroups(_ context.Context, ruleID int64) ([]rules.ConditionGroup, error) {
	f.detailReads++
	return f.conds[ruleID], nil
}

func (f *fakeRules) Actions(_ context.Context, ruleID int64) ([]rules.ActionSpec, error) {
	return f.actions[ruleID], nil
}

func newFakeRules() *fakeRules {
	return &fakeRules{
		groups: []rules.RuleGroup{
			{ID: 1, OwnerID: 1, Order: 2, Active: true, Rules: []rules.Rule{
				{ID: 11, GroupID: 1, Trigger: rules.TriggerCreated, Order: 1, Active: true},
				{ID: 12, GroupID: 1, Trigger: rules.TriggerUpdated, Order: 2, Active: true},
				{ID: 13, GroupID: 1, Trigger: rules.TriggerCreated, Order: 3, Active: false},
			}},
			{ID: 2, OwnerID: 1, Order: 1, Active: true, Rules: []rules.Rule{
				{ID: 21, GroupID: 2, Trigger: rules.TriggerCreated, Order: 9, Active: true},
			}},
			{ID: 3, OwnerID: 1, Order: 0, Active: false, Rules: []rules.Rule{
				{ID: 31, GroupID: 3, Trigger: rules.TriggerCreated, Order: 1, Active: true},
			}},
		},
		conds: map[int64][]rules.ConditionGroup{},
		actions: map[int64][]rules.ActionSpec{
			11: {{ID: 1, RuleID: 11, Type: rules.ActionSetCategory, Value: "3"}},
			21: {{ID: 2, RuleID: 21, Type: rules.ActionSetCategory, Value: "oops"}},
		},
	}
}

func ruleIDs(crs []*compiledRule) []int64 {
	ids := make([]int64, 0, len(crs))
	for _, cr := range crs {
		ids = append(ids, cr.ID)
	}
	return ids
}

func TestRuleCache_SelectForOrdersAndFilters(t *testing.T) {
	src := newFakeRules()
	c := newRuleCache(src)
	ctx := context.Background()

	sel, err := c.selectFor(ctx, 1, rules.TriggerCreated)
	require.NoError(t, err)
	assert.Equal(t, []int64{21, 11}, ruleIDs(sel))
	assert.Equal(t, int64(1), sel[0].OwnerID)

	batch, err := c.selectFor(ctx, 1, rules.TriggerBatch)
	require.NoError(t, err)
	assert.Equal(t, []int64{21, 11, 12}, ruleIDs(batch))

	none, err := c.selectFor(ctx, 2, rules.TriggerCreated)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRuleCache_CachesSelectionsAndCompiledRules(t *testing.T) {
	src := newFakeRules()
	c := newRuleCache(src)
	ctx := context.Background()

	_, err := c.selectFor(ctx, 1, rules.TriggerCreated)
	require.NoError(t, err)
	_, err = c.selectFor(ctx, 1, rules.TriggerCreated)
	require.NoError(t, err)
	_, err = c.selectFor(ctx, 1, rules.TriggerBatch)
	require.NoError(t, err)

	assert.Equal(t, 2, src.groupReads, "one read per (owner, trigger)")
	assert.Equal(t, 3, src.detailReads, "each rule compiled once")

	st := c.Stats()
	assert.Equal(t, "engine.rules", st.Name)
	assert.Equal(t, 3, st.Entries)

	c.Clear()
	assert.Zero(t, c.Stats().Entries)
	_, err = c.selectFor(ctx, 1, rules.TriggerCreated)
	require.NoError(t, err)
	assert.Equal(t, 3, src.groupReads)
}

func TestRuleCache_ExplicitIgnoresTriggerAndGroupFlag(t *testing.T) {
	c := newRuleCache(newFakeRules())

	sel, err := c.explicit(context.Background(), []int64{31, 13, 12, 404})
	require.NoError(t, err)
	// 31 sits in the inactive group ordered first; 13 is itself inactive.
	assert.Equal(t, []int64{31, 12}, ruleIDs(sel))
}

func TestRuleCache_KeepsUnparsableActions(t *testing.T) {
	c := newRuleCache(newFakeRules())

	sel, err := c.selectFor(context.Background(), 1, rules.TriggerCreated)
	require.NoError(t, err)
	require.Len(t, sel[0].actions, 1)

	bad := sel[0].actions[0]
	assert.Nil(t, bad.act)
	assert.Error(t, bad.err)
	assert.Equal(t, `Invalid action set_category("oops")`, bad.describe())

	good := sel[1].actions[0]
	assert.NoError(t, good.err)
	assert.Equal(t, "Set category to #3", good.describe())
}

func TestFieldCache_MemoizesPerGeneration(t *testing.T) {
	fc, err := newFieldCache(1024)
	require.NoError(t, err)
	defer fc.close()

	txn := &rules.Transaction{ID: 7, Amount: decimal.RequireFromString("12.5"), Description: "COFFEE"}
	lookup := fc.lookup(txn)

	assert.Equal(t, "COFFEE", lookup(rules.FieldDescription).String())
	assert.Equal(t, "COFFEE", lookup(rules.FieldDescription).String())
	assert.Equal(t, int64(1), fc.Stats().Hits)
	assert.Equal(t, int64(1), fc.Stats().Misses)

	txn.Description = "TEA"
	assert.Equal(t, "COFFEE", lookup(rules.FieldDescription).String(), "stale until invalidated")

	fc.invalidate(txn.ID)
	assert.Equal(t, "TEA", lookup(rules.FieldDescription).String())
	assert.Equal(t, "12.50", lookup(rules.FieldAmount).String())

	fc.Clear()
	st := fc.Stats()
	assert.Equal(t, "engine.fields", st.Name)
	assert.Zero(t, st.Hits)
	assert.Zero(t, st.Misses)
}
