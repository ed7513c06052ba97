// Package condition evaluates rule conditions against transaction fields.
//
// Evaluation is pure and total: it never performs I/O and never returns an
// error. Anything malformed (an unparseable number, date or pattern) makes the
// operator return false. The condition's Negated flag is applied last, as an
// XOR over the operator result, so a negative operator combined with
// Negated=true behaves like its positive form:
//
//	not_contains + negated  ==  contains
//
// Composition:
//   - AND group: every condition is true
//   - OR group: at least one condition is true
//   - a group with no conditions never matches
//   - a rule matches when any of its groups matches; zero groups never match
package condition
