package rules

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in one rule definition.
type ValidationError struct {
	RuleID int64
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %d: %s", e.RuleID, strings.Join(e.Issues, "; "))
}

// Validate checks that a rule uses only the closed enumerations and that the
// operands of structured operators are well formed.
//
// A rule that is valid here can still fail to match (for example an
// unparseable regex evaluates to false at runtime). Validate exists so that
// loaders can reject obvious misconfiguration before it reaches the store.
func Validate(r Rule) error {
	v := &validator{}
	v.validateRule(r)
	if len(v.issues) == 0 {
		return nil
	}
	return &ValidationError{RuleID: r.ID, Issues: v.issues}
}

type validator struct {
	issues []string
}

func (v *validator) add(format string, args ...any) {
	v.issues = append(v.issues, fmt.Sprintf(format, args...))
}

func (v *validator) validateRule(r Rule) {
	if strings.TrimSpace(r.Name) == "" {
		v.add("name is required")
	}
	if _, err := ParseTriggerType(string(r.Trigger)); err != nil {
		v.add("%v", err)
	}
	for gi, g := range r.ConditionGroups {
		if _, err := ParseLogicOperator(string(g.Logic)); err != nil {
			v.add("condition group %d: %v", gi, err)
		}
		if len(g.Conditions) == 0 {
			v.add("condition group %d has no conditions and can never match", gi)
		}
		for ci, c := range g.Conditions {
			v.validateCondition(gi, ci, c)
		}
	}
	for ai, a := range r.Actions {
		if _, err := ParseActionType(string(a.Type)); err != nil {
			v.add("action %d: %v", ai, err)
		}
	}
}

func (v *validator) validateCondition(gi, ci int, c Condition) {
	if _, err := ParseField(string(c.Field)); err != nil {
		v.add("condition %d.%d: %v", gi, ci, err)
	}
	op, err := ParseOperator(string(c.Operator))
	if err != nil {
		v.add("condition %d.%d: %v", gi, ci, err)
		return
	}
	if op == OpBetween && len(strings.Split(c.Value, ",")) != 2 {
		v.add("condition %d.%d: between expects \"min,max\", got %q", gi, ci, c.Value)
	}
}
