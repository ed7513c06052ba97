// Package engine evaluates financial transactions against user-defined rules
// and applies the actions of matching rules.
//
// For each transaction the engine selects the owner's active rules for the
// trigger (creation, update, manual invocation or batch replay) and walks
// them in priority order: group order first, rule order second. A rule
// matches when any of its condition groups matches.
//
// Per (transaction, rule):
//
//  1. Conditions are evaluated against memoized field values.
//  2. On a match, a unit of work is opened and the rule's actions run in
//     order against a working copy of the transaction.
//  3. Any action error rolls back every mutation of this rule and is
//     recorded in the Report and the execution log. Other rules and other
//     transactions are unaffected.
//  4. On success the unit of work commits and the working copy replaces the
//     caller's transaction, so later rules observe the change.
//  5. A rule with stop_processing ends evaluation for the transaction once it
//     matched. An action with stop_processing skips the rule's remaining
//     actions.
//
// Dry-run mode performs steps 1 through 3 and always rolls back.
//
// Execution logs are buffered and written in batches through a LogSink.
// Writing is best effort: a batch is retried and then dropped, and the drop
// is counted in Report.LogsDropped.
//
// An Engine is not safe for concurrent use. Serialize calls, for example
// through a dispatch.Dispatcher.
package engine
