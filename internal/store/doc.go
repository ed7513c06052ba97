// Package store provides SQLite-backed storage for ledgers, rule
// definitions and the execution log.
//
// The store implements every collaborator the rule engine consumes:
//   - Rule read API: RuleGroups, Rules, ConditionGroups, Actions
//   - Transaction read API: Transaction, Transactions, TransactionPage
//   - Mutation API: Begin returns a Tx that applies one rule's actions
//     atomically (action.Tx)
//   - Execution-log sink: AppendExecutionLogs batch-inserts audit rows
//
// # Ownership
//
// Categories, merchants and tags are scoped to an owner. Entity names are
// unique per owner, compared case-insensitively, which is what makes the
// create_* actions idempotent.
//
// # Change Notifications
//
// Import reports each written transaction to listeners registered with
// OnTransactionChange, after commit. Rule actions never notify, so a rule
// cannot re-trigger itself through the dispatcher.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: a rule transaction holds the database until it
//     commits or rolls back
package store
