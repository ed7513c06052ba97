package engine

import "github.com/roach88/tally/internal/rules"

// Report summarizes one Process call.
type Report struct {
	RunID   string            `json:"run_id"`
	Trigger rules.TriggerType `json:"trigger_type"`
	DryRun  bool              `json:"dry_run"`

	// Transactions counts transactions evaluated.
	Transactions int `json:"transactions"`
	// Evaluations counts (transaction, rule) pairs evaluated.
	Evaluations int `json:"evaluations"`
	// Matches counts pairs whose conditions matched.
	Matches int `json:"matches"`
	// Failures counts matched pairs whose actions were rolled back because
	// of an error.
	Failures int `json:"failures"`
	// LogsDropped counts execution-log rows lost to flush failures.
	LogsDropped int `json:"logs_dropped"`

	// Outcomes lists every matched pair in evaluation order.
	Outcomes []Outcome `json:"outcomes"`
}

// Outcome is the result of one matched (transaction, rule) pair.
type Outcome struct {
	RuleID        int64           `json:"rule_id"`
	RuleName      string          `json:"rule_name"`
	TransactionID int64           `json:"transaction_id"`
	Committed     bool            `json:"committed"`
	Error         string          `json:"error,omitempty"`
	Actions       []ActionOutcome `json:"actions"`
}

// ActionOutcome describes one action of a matched rule. Applied means the
// action ran without error inside the rule's unit of work; in dry-run mode
// or when a later action failed it was still rolled back.
type ActionOutcome struct {
	Type        rules.ActionType `json:"type"`
	Description string           `json:"description"`
	Applied     bool             `json:"applied"`
	Error       string           `json:"error,omitempty"`
}
