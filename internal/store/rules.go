package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/tally/internal/rules"
)

const ruleColumns = `
	r.id, r.group_id, g.owner_id, r.name, r.trigger_type, r.stop_processing,
	r.sort_order, r.active, g.sort_order, g.active`

// RuleGroups returns every rule group of an owner with its rule headers,
// ordered by group order then rule order. Conditions and actions are not
// loaded. Inactive groups and rules are included.
func (s *Store) RuleGroups(ctx context.Context, ownerID int64) ([]rules.RuleGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, sort_order, active
		FROM rule_groups
		WHERE owner_id = ?
		ORDER BY sort_order ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query rule groups: %w", err)
	}
	defer rows.Close()

	groups := []rules.RuleGroup{}
	index := make(map[int64]int)
	for rows.Next() {
		var g rules.RuleGroup
		if err := rows.Scan(&g.ID, &g.OwnerID, &g.Name, &g.Order, &g.Active); err != nil {
			return nil, fmt.Errorf("scan rule group: %w", err)
		}
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule groups: %w", err)
	}
	rows.Close()

	ruleRows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules r
		JOIN rule_groups g ON g.id = r.group_id
		WHERE g.owner_id = ?
		ORDER BY g.sort_order ASC, g.id ASC, r.sort_order ASC, r.id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		r, err := scanRule(ruleRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[r.GroupID]; ok {
			groups[i].Rules = append(groups[i].Rules, r)
		}
	}
	if err := ruleRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	return groups, nil
}

// Rules returns the headers of the given rules ordered by (group order, rule
// order). Unknown ids are skipped.
func (s *Store) Rules(ctx context.Context, ids []int64) ([]rules.Rule, error) {
	if len(ids) == 0 {
		return []rules.Rule{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules r
		JOIN rule_groups g ON g.id = r.group_id
		WHERE r.id IN (`+placeholders(len(ids))+`)
		ORDER BY g.sort_order ASC, g.id ASC, r.sort_order ASC, r.id ASC
	`, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	out := []rules.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// ConditionGroups returns a rule's condition groups with their conditions,
// both in ascending order.
func (s *Store) ConditionGroups(ctx context.Context, ruleID int64) ([]rules.ConditionGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cg.id, cg.rule_id, cg.logic_operator, cg.sort_order,
		       c.id, c.field, c.operator, c.value, c.case_sensitive, c.negated, c.sort_order
		FROM condition_groups cg
		LEFT JOIN rule_conditions c ON c.group_id = cg.id
		WHERE cg.rule_id = ?
		ORDER BY cg.sort_order ASC, cg.id ASC, c.sort_order ASC, c.id ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query condition groups: %w", err)
	}
	defer rows.Close()

	groups := []rules.ConditionGroup{}
	for rows.Next() {
		var (
			g                 rules.ConditionGroup
			logic             string
			condID            sql.NullInt64
			field, op, value  sql.NullString
			caseSens, negated sql.NullBool
			condOrder         sql.NullInt64
		)
		if err := rows.Scan(&g.ID, &g.RuleID, &logic, &g.Order,
			&condID, &field, &op, &value, &caseSens, &negated, &condOrder); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		if n := len(groups); n == 0 || groups[n-1].ID != g.ID {
			g.Logic = rules.LogicOperator(strings.ToUpper(logic))
			g.Conditions = []rules.Condition{}
			groups = append(groups, g)
		}
		if !condID.Valid {
			continue
		}
		last := &groups[len(groups)-1]
		last.Conditions = append(last.Conditions, rules.Condition{
			ID:            condID.Int64,
			GroupID:       g.ID,
			Field:         rules.Field(field.String),
			Operator:      rules.Operator(op.String),
			Value:         value.String,
			CaseSensitive: caseSens.Bool,
			Negated:       negated.Bool,
			Order:         int(condOrder.Int64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conditions: %w", err)
	}
	return groups, nil
}

// Actions returns a rule's actions in ascending order.
func (s *Store) Actions(ctx context.Context, ruleID int64) ([]rules.ActionSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, action_type, action_value, sort_order, stop_processing
		FROM rule_actions
		WHERE rule_id = ?
		ORDER BY sort_order ASC, id ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []rules.ActionSpec{}
	for rows.Next() {
		var a rules.ActionSpec
		if err := rows.Scan(&a.ID, &a.RuleID, &a.Type, &a.Value, &a.Order, &a.StopProcessing); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (rules.Rule, error) {
	var r rules.Rule
	err := sc.Scan(&r.ID, &r.GroupID, &r.OwnerID, &r.Name, &r.Trigger, &r.StopProcessing,
		&r.Order, &r.Active, &r.GroupOrder, &r.GroupActive)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	return r, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
