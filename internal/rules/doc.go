// Package rules defines the data model shared by the tally rule engine.
//
// Rule definitions form a fixed hierarchy:
//
//	RuleGroup -> Rule -> ConditionGroup -> Condition
//	                  -> ActionSpec
//
// A group orders and enables its rules. A rule matches a transaction when any
// of its condition groups matches (groups are OR'd). Inside a condition group
// the conditions are combined with the group's LogicOperator.
//
// The engine treats every definition as an immutable snapshot for the lifetime
// of one orchestrator. The only values the engine writes are Transaction
// fields (through actions) and ExecutionLog rows.
//
// Fields, operators, trigger types and action types are closed enumerations.
// Parse* helpers reject anything outside them so that an unknown name fails at
// load time instead of silently never matching.
package rules
