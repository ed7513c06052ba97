package condition

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/roach88/tally/internal/rules"
)

// FieldLookup returns the current value of a field. The engine passes a
// memoizing lookup so each field is extracted once per transaction.
type FieldLookup func(rules.Field) Value

// Lookup builds a non-memoizing FieldLookup over txn.
func Lookup(txn *rules.Transaction) FieldLookup {
	return func(f rules.Field) Value { return FieldValue(txn, f) }
}

type compiled struct {
	re  *regexp.Regexp
	err error
}

// Evaluator evaluates conditions and keeps compiled patterns between calls.
// It is not safe for concurrent use.
type Evaluator struct {
	patterns map[string]compiled
}

// NewEvaluator creates an Evaluator with an empty pattern cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{patterns: make(map[string]compiled)}
}

// Evaluate is a convenience for a one-off evaluation without pattern caching.
func Evaluate(c rules.Condition, v Value) bool {
	return (&Evaluator{}).Evaluate(c, v)
}

// MatchRule reports whether any condition group matches.
func (e *Evaluator) MatchRule(groups []rules.ConditionGroup, lookup FieldLookup) bool {
	for _, g := range groups {
		if e.MatchGroup(g, lookup) {
			return true
		}
	}
	return false
}

// MatchGroup combines a group's conditions with its logic operator. Any logic
// value other than OR is treated as AND.
func (e *Evaluator) MatchGroup(g rules.ConditionGroup, lookup FieldLookup) bool {
	if len(g.Conditions) == 0 {
		return false
	}
	if g.Logic == rules.LogicOr {
		for _, c := range g.Conditions {
			if e.Evaluate(c, lookup(c.Field)) {
				return true
			}
		}
		return false
	}
	for _, c := range g.Conditions {
		if !e.Evaluate(c, lookup(c.Field)) {
			return false
		}
	}
	return true
}

// Evaluate applies c's operator to v and then XORs the result with Negated.
func (e *Evaluator) Evaluate(c rules.Condition, v Value) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			result = false
		}
	}()
	return e.apply(c, v) != c.Negated
}

func (e *Evaluator) apply(c rules.Condition, v Value) bool {
	cs := c.CaseSensitive
	switch c.Operator {
	case rules.OpEquals:
		return equals(v, c.Value, cs)
	case rules.OpNotEquals:
		return !equals(v, c.Value, cs)
	case rules.OpContains:
		return substring(v, c.Value, cs, strings.Contains)
	case rules.OpNotContains:
		if v.Kind == KindNull || c.Value == "" {
			return false
		}
		return !substring(v, c.Value, cs, strings.Contains)
	case rules.OpStartsWith:
		return substring(v, c.Value, cs, strings.HasPrefix)
	case rules.OpEndsWith:
		return substring(v, c.Value, cs, strings.HasSuffix)
	case rules.OpGreaterThan:
		return compare(v, c.Value, func(n int) bool { return n > 0 })
	case rules.OpGreaterThanOrEqual:
		return compare(v, c.Value, func(n int) bool { return n >= 0 })
	case rules.OpLessThan:
		return compare(v, c.Value, func(n int) bool { return n < 0 })
	case rules.OpLessThanOrEqual:
		return compare(v, c.Value, func(n int) bool { return n <= 0 })
	case rules.OpRegex:
		if v.Kind == KindNull {
			return false
		}
		re := e.pattern(c.Value)
		return re != nil && re.MatchString(v.String())
	case rules.OpWildcard:
		if v.Kind == KindNull {
			return false
		}
		re, err := WildcardPattern(c.Value, cs)
		return err == nil && re.MatchString(v.String())
	case rules.OpIsEmpty:
		return v.IsEmpty()
	case rules.OpIsNotEmpty:
		return !v.IsEmpty()
	case rules.OpIn:
		return in(v, c.Value, cs)
	case rules.OpNotIn:
		return !in(v, c.Value, cs)
	case rules.OpBetween:
		return between(v, c.Value)
	default:
		return false
	}
}

func (e *Evaluator) pattern(operand string) *regexp.Regexp {
	if e.patterns == nil {
		re, err := CompilePattern(operand)
		if err != nil {
			return nil
		}
		return re
	}
	p, ok := e.patterns[operand]
	if !ok {
		re, err := CompilePattern(operand)
		p = compiled{re: re, err: err}
		e.patterns[operand] = p
	}
	if p.err != nil {
		return nil
	}
	return p.re
}

func fold(s string, caseSensitive bool) string {
	if caseSensitive {
		return s
	}
	return cases.Fold().String(s)
}

// equals compares numerically when both sides are numbers, by calendar day or
// instant for dates, and as strings otherwise. A null field equals only an
// empty operand.
func equals(v Value, operand string, cs bool) bool {
	switch v.Kind {
	case KindNull:
		return operand == ""
	case KindNumber:
		if d, err := decimal.NewFromString(strings.TrimSpace(operand)); err == nil {
			return v.Num.Equal(d)
		}
	case KindTime:
		if n, ok := compareTime(v.Time, operand); ok {
			return n == 0
		}
	case KindString:
		if a, b, ok := bothNumbers(v.Str, operand); ok {
			return a.Equal(b)
		}
	}
	return fold(v.String(), cs) == fold(operand, cs)
}

func substring(v Value, operand string, cs bool, match func(s, sub string) bool) bool {
	if v.Kind == KindNull || operand == "" {
		return false
	}
	return match(fold(v.String(), cs), fold(operand, cs))
}

func compare(v Value, operand string, want func(int) bool) bool {
	n, ok := order(v, operand)
	return ok && want(n)
}

// order compares the field against one operand. ok is false when either side
// has no natural ordering.
func order(v Value, operand string) (int, bool) {
	operand = strings.TrimSpace(operand)
	switch v.Kind {
	case KindNumber:
		d, err := decimal.NewFromString(operand)
		if err != nil {
			return 0, false
		}
		return v.Num.Cmp(d), true
	case KindTime:
		return compareTime(v.Time, operand)
	case KindString:
		if a, b, ok := bothNumbers(v.Str, operand); ok {
			return a.Cmp(b), true
		}
		if t, _, ok := parseDate(v.Str); ok {
			return compareTime(t, operand)
		}
	}
	return 0, false
}

func in(v Value, operand string, cs bool) bool {
	var candidates []string
	for _, part := range strings.Split(operand, ",") {
		if part = strings.TrimSpace(part); part != "" {
			candidates = append(candidates, part)
		}
	}
	if v.Kind == KindList {
		for _, item := range v.List {
			for _, c := range candidates {
				if fold(item, cs) == fold(c, cs) {
					return true
				}
			}
		}
		return false
	}
	for _, c := range candidates {
		if equals(v, c, cs) {
			return true
		}
	}
	return false
}

// between is inclusive on both bounds. The operand must be exactly "min,max".
func between(v Value, operand string) bool {
	parts := strings.Split(operand, ",")
	if len(parts) != 2 {
		return false
	}
	lo, ok := order(v, parts[0])
	if !ok {
		return false
	}
	hi, ok := order(v, parts[1])
	if !ok {
		return false
	}
	return lo >= 0 && hi <= 0
}

func bothNumbers(a, b string) (decimal.Decimal, decimal.Decimal, bool) {
	x, err := decimal.NewFromString(strings.TrimSpace(a))
	if err != nil {
		return decimal.Zero, decimal.Zero, false
	}
	y, err := decimal.NewFromString(strings.TrimSpace(b))
	if err != nil {
		return decimal.Zero, decimal.Zero, false
	}
	return x, y, true
}

const dateLayout = "2006-01-02"

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var dayLayouts = []string{
	dateLayout,
	"02.01.2006",
}

// parseDate accepts ISO dates with or without a time of day and the
// dd.mm.yyyy form common on bank statements. dayOnly is true when the input
// carried no time of day.
func parseDate(s string) (t time.Time, dayOnly bool, ok bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, true
		}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, true
		}
	}
	return time.Time{}, false, false
}

// compareTime orders field against a date operand. A day-only operand is
// compared by calendar day in the field's own location.
func compareTime(field time.Time, operand string) (int, bool) {
	t, dayOnly, ok := parseDate(operand)
	if !ok {
		return 0, false
	}
	if dayOnly {
		fy, fm, fd := field.Date()
		oy, om, od := t.Date()
		a := fy*10000 + int(fm)*100 + fd
		b := oy*10000 + int(om)*100 + od
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	}
	return field.Compare(t), true
}
