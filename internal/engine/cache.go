package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/dgraph-io/ristretto"

	"github.com/roach88/tally/internal/action"
	"github.com/roach88/tally/internal/condition"
	"github.com/roach88/tally/internal/rules"
)

// compiledRule is a rule with its condition groups loaded and its actions
// parsed.
type compiledRule struct {
	rules.Rule
	actions []parsedAction
}

// parsedAction keeps the stored form next to the parsed variant. err is set
// when the stored action could not be parsed; executing the rule then fails.
type parsedAction struct {
	spec rules.ActionSpec
	act  action.Action
	err  error
}

func (p parsedAction) describe() string {
	if p.act == nil {
		return fmt.Sprintf("Invalid action %s(%q)", p.spec.Type, p.spec.Value)
	}
	return p.act.Describe()
}

type selectionKey struct {
	owner   int64
	trigger rules.TriggerType
}

// ruleCache holds ordered rule selections per (owner, trigger) and compiled
// rules by id. Rule definitions are assumed immutable until Clear.
type ruleCache struct {
	src        RuleSource
	selections map[selectionKey][]*compiledRule
	compiled   map[int64]*compiledRule
	hits       int64
	misses     int64
}

func newRuleCache(src RuleSource) *ruleCache {
	return &ruleCache{
		src:        src,
		selections: make(map[selectionKey][]*compiledRule),
		compiled:   make(map[int64]*compiledRule),
	}
}

// selectFor returns the owner's active rules for trigger in priority order.
// The batch trigger selects every active rule.
func (c *ruleCache) selectFor(ctx context.Context, owner int64, trigger rules.TriggerType) ([]*compiledRule, error) {
	key := selectionKey{owner, trigger}
	if sel, ok := c.selections[key]; ok {
		c.hits++
		return sel, nil
	}
	c.misses++

	groups, err := c.src.RuleGroups(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load rule groups for owner %d: %w", owner, err)
	}

	var headers []rules.Rule
	for _, g := range groups {
		if !g.Active {
			continue
		}
		for _, r := range g.Rules {
			if !r.Active {
				continue
			}
			if trigger != rules.TriggerBatch && r.Trigger != trigger {
				continue
			}
			r.GroupOrder = g.Order
			r.GroupActive = g.Active
			r.OwnerID = g.OwnerID
			headers = append(headers, r)
		}
	}

	sel, err := c.compileAll(ctx, headers)
	if err != nil {
		return nil, err
	}
	c.selections[key] = sel
	return sel, nil
}

// explicit returns the named rules in priority order for manual execution.
// The trigger type and group active flag are ignored; the rule active flag
// is honored. Unknown ids are dropped.
func (c *ruleCache) explicit(ctx context.Context, ids []int64) ([]*compiledRule, error) {
	headers, err := c.src.Rules(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load rules %v: %w", ids, err)
	}
	active := headers[:0:0]
	for _, r := range headers {
		if r.Active {
			active = append(active, r)
		}
	}
	return c.compileAll(ctx, active)
}

func (c *ruleCache) compileAll(ctx context.Context, headers []rules.Rule) ([]*compiledRule, error) {
	sort.SliceStable(headers, func(i, j int) bool {
		if headers[i].GroupOrder != headers[j].GroupOrder {
			return headers[i].GroupOrder < headers[j].GroupOrder
		}
		return headers[i].Order < headers[j].Order
	})

	out := make([]*compiledRule, 0, len(headers))
	for _, h := range headers {
		cr, err := c.compile(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}

func (c *ruleCache) compile(ctx context.Context, h rules.Rule) (*compiledRule, error) {
	if cr, ok := c.compiled[h.ID]; ok {
		c.hits++
		return cr, nil
	}
	c.misses++

	groups, err := c.src.ConditionGroups(ctx, h.ID)
	if err != nil {
		return nil, fmt.Errorf("load condition groups for rule %d: %w", h.ID, err)
	}
	specs, err := c.src.Actions(ctx, h.ID)
	if err != nil {
		return nil, fmt.Errorf("load actions for rule %d: %w", h.ID, err)
	}

	h.ConditionGroups = groups
	h.Actions = specs
	cr := &compiledRule{Rule: h, actions: make([]parsedAction, 0, len(specs))}
	for _, s := range specs {
		act, err := action.Parse(s)
		cr.actions = append(cr.actions, parsedAction{spec: s, act: act, err: err})
	}
	c.compiled[h.ID] = cr
	return cr, nil
}

func (c *ruleCache) Clear() {
	c.selections = make(map[selectionKey][]*compiledRule)
	c.compiled = make(map[int64]*compiledRule)
	c.hits, c.misses = 0, 0
}

func (c *ruleCache) Stats() CacheStats {
	return CacheStats{
		Name:    "engine.rules",
		Entries: len(c.compiled),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// fieldCache memoizes condition.FieldValue per (transaction, field).
//
// Keys carry a per-transaction generation. Committing a rule's mutations
// bumps the generation, so later rules read the new values and the stale
// entries age out of the cache.
type fieldCache struct {
	cache  *ristretto.Cache
	gens   map[int64]uint64
	hits   int64
	misses int64
}

func newFieldCache(maxEntries int64) (*fieldCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10, // number of keys to track frequency of
		MaxCost:            maxEntries,
		BufferItems:        64, // number of keys per Get buffer
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create field cache: %w", err)
	}
	return &fieldCache{cache: cache, gens: make(map[int64]uint64)}, nil
}

func (c *fieldCache) key(txnID int64, f rules.Field) string {
	return fmt.Sprintf("%d:%d:%s", txnID, c.gens[txnID], f)
}

func (c *fieldCache) get(txn *rules.Transaction, f rules.Field) condition.Value {
	key := c.key(txn.ID, f)
	if v, ok := c.cache.Get(key); ok {
		if val, ok := v.(condition.Value); ok {
			c.hits++
			return val
		}
	}
	c.misses++
	val := condition.FieldValue(txn, f)
	c.cache.Set(key, val, 1)
	c.cache.Wait()
	return val
}

// lookup returns a memoizing condition.FieldLookup over txn.
func (c *fieldCache) lookup(txn *rules.Transaction) condition.FieldLookup {
	return func(f rules.Field) condition.Value {
		return c.get(txn, f)
	}
}

// invalidate makes every cached field of the transaction unreachable.
func (c *fieldCache) invalidate(txnID int64) {
	c.gens[txnID]++
}

func (c *fieldCache) Clear() {
	c.cache.Clear()
	c.gens = make(map[int64]uint64)
	c.hits, c.misses = 0, 0
}

func (c *fieldCache) Stats() CacheStats {
	entries := 0
	if m := c.cache.Metrics; m != nil {
		entries = int(m.KeysAdded() - m.KeysEvicted())
	}
	return CacheStats{
		Name:    "engine.fields",
		Entries: entries,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

func (c *fieldCache) close() {
	c.cache.Close()
}
