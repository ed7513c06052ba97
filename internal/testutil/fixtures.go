// Package testutil holds the SQLite fixtures shared by package tests.
//
// Seed writes two owners:
//
//	owner 1: account 1 "Checking", categories 3 "Groceries" and 5 "Travel",
//	         tag 10 "business", transactions 101, 102 and 103
//	owner 2: account 2 "Joint", category 4 "Other", transaction 201
//
// The builders (Group, Rule, All, Cond, Do) keep rule definitions in tests
// short.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/rules"
	"github.com/roach88/tally/internal/store"
)

// OpenStore opens a store in a temporary directory and closes it when the
// test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Day returns midnight UTC of day d in March 2024.
func Day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

// Ledger returns the two-owner fixture with the given rule groups.
func Ledger(groups ...rules.RuleGroup) store.ImportData {
	return store.ImportData{
		Accounts: []rules.Account{
			{ID: 1, OwnerID: 1, Name: "Checking"},
			{ID: 2, OwnerID: 2, Name: "Joint"},
		},
		Categories: []rules.Entity{
			{ID: 3, OwnerID: 1, Name: "Groceries"},
			{ID: 5, OwnerID: 1, Name: "Travel"},
			{ID: 4, OwnerID: 2, Name: "Other"},
		},
		Tags: []rules.Entity{
			{ID: 10, OwnerID: 1, Name: "business"},
		},
		Transactions: []rules.Transaction{
			{ID: 101, AccountID: 1, Amount: decimal.RequireFromString("42.50"), Description: "SUPERMARKET PURCHASE", BookedDate: Day(1)},
			{ID: 102, AccountID: 1, Amount: decimal.RequireFromString("300"), Description: "MARRIOTT DOWNTOWN HOTEL STAY", BookedDate: Day(5)},
			{ID: 103, AccountID: 1, Amount: decimal.RequireFromString("100"), Description: "CITY PARKING", BookedDate: Day(10)},
			{ID: 201, AccountID: 2, Amount: decimal.RequireFromString("15"), Description: "SUPERMARKET PURCHASE", BookedDate: Day(2)},
		},
		RuleGroups: groups,
	}
}

// Seed imports Ledger(groups...) into s.
func Seed(t testing.TB, s *store.Store, groups ...rules.RuleGroup) store.ImportResult {
	t.Helper()
	res, err := s.Import(context.Background(), Ledger(groups...))
	require.NoError(t, err)
	return res
}

// Load reads transactions and requires all of them to exist.
func Load(t testing.TB, s *store.Store, ids ...int64) []*rules.Transaction {
	t.Helper()
	txns, err := s.Transactions(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, txns, len(ids))
	return txns
}

// Group builds an active rule group.
func Group(id, owner int64, order int, rs ...rules.Rule) rules.RuleGroup {
	return rules.RuleGroup{ID: id, OwnerID: owner, Name: "group", Order: order, Active: true, Rules: rs}
}

// Rule builds an active rule. Actions are ordered as given.
func Rule(id int64, order int, trigger rules.TriggerType, when []rules.ConditionGroup, actions ...rules.ActionSpec) rules.Rule {
	for i := range actions {
		actions[i].Order = i + 1
	}
	return rules.Rule{
		ID:              id,
		Name:            "rule",
		Trigger:         trigger,
		Order:           order,
		Active:          true,
		ConditionGroups: when,
		Actions:         actions,
	}
}

// All is a single AND group.
func All(conds ...rules.Condition) []rules.ConditionGroup {
	return []rules.ConditionGroup{{Logic: rules.LogicAnd, Conditions: conds}}
}

func Cond(f rules.Field, op rules.Operator, value string) rules.Condition {
	return rules.Condition{Field: f, Operator: op, Value: value}
}

func Do(typ rules.ActionType, value string) rules.ActionSpec {
	return rules.ActionSpec{Type: typ, Value: value}
}
