package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleGroup is an ordering container for rules. An inactive group's rules
// are never selected by trigger.
type RuleGroup struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	Active  bool   `json:"active"`
	Rules   []Rule `json:"rules,omitempty"`
}

// Rule is one named if/then unit.
//
// GroupOrder and GroupActive are denormalized from the owning group so that a
// rule fetched on its own can still be placed in priority order.
type Rule struct {
	ID             int64       `json:"id"`
	GroupID        int64       `json:"group_id"`
	OwnerID        int64       `json:"owner_id"`
	Name           string      `json:"name"`
	Trigger        TriggerType `json:"trigger_type"`
	StopProcessing bool        `json:"stop_processing"`
	Order          int         `json:"order"`
	Active         bool        `json:"active"`
	GroupOrder     int         `json:"group_order"`
	GroupActive    bool        `json:"group_active"`

	ConditionGroups []ConditionGroup `json:"condition_groups,omitempty"`
	Actions         []ActionSpec     `json:"actions,omitempty"`
}

// ConditionGroup combines its conditions with Logic.
type ConditionGroup struct {
	ID         int64         `json:"id"`
	RuleID     int64         `json:"rule_id"`
	Logic      LogicOperator `json:"logic_operator"`
	Order      int           `json:"order"`
	Conditions []Condition   `json:"conditions"`
}

// Condition compares one transaction field against Value.
type Condition struct {
	ID            int64    `json:"id"`
	GroupID       int64    `json:"group_id"`
	Field         Field    `json:"field"`
	Operator      Operator `json:"operator"`
	Value         string   `json:"value"`
	CaseSensitive bool     `json:"case_sensitive"`
	Negated       bool     `json:"negated"`
	Order         int      `json:"order"`
}

// ActionSpec is the stored form of a rule action. Value is an entity id or a
// literal depending on Type.
//
// StopProcessing stops the remaining actions of the same rule once this one
// succeeds. It does not affect other rules.
type ActionSpec struct {
	ID             int64      `json:"id"`
	RuleID         int64      `json:"rule_id"`
	Type           ActionType `json:"action_type"`
	Value          string     `json:"action_value"`
	Order          int        `json:"order"`
	StopProcessing bool       `json:"stop_processing"`
}

// Entity is a category, merchant or tag scoped to one owner.
type Entity struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
}

// Account is the owner-scoping record every transaction belongs to.
type Account struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
}

// Transaction is the readable field set of one transaction record with its
// associations resolved. It is the sole mutation target of actions.
type Transaction struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	AccountName   string          `json:"account"`
	OwnerID       int64           `json:"owner_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	Partner       string          `json:"partner"`
	Category      *Entity         `json:"category,omitempty"`
	Merchant      *Entity         `json:"merchant,omitempty"`
	Type          TransactionType `json:"type"`
	Note          string          `json:"note"`
	RecipientNote string          `json:"recipient_note"`
	Place         string          `json:"place"`
	TargetIBAN    string          `json:"target_iban"`
	SourceIBAN    string          `json:"source_iban"`
	BookedDate    time.Time       `json:"booked_date"`
	Tags          []Entity        `json:"tags"`
	Reconciled    bool            `json:"reconciled"`
}

// Clone returns a deep copy. The engine snapshots a transaction before a
// rule's actions run and restores the snapshot on rollback.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Category != nil {
		cat := *t.Category
		c.Category = &cat
	}
	if t.Merchant != nil {
		m := *t.Merchant
		c.Merchant = &m
	}
	if t.Tags != nil {
		c.Tags = make([]Entity, len(t.Tags))
		copy(c.Tags, t.Tags)
	}
	return &c
}

// HasTag reports whether a tag with the given id is attached.
func (t *Transaction) HasTag(id int64) bool {
	for _, tag := range t.Tags {
		if tag.ID == id {
			return true
		}
	}
	return false
}

// TagNames returns the attached tag names in attachment order.
func (t *Transaction) TagNames() []string {
	names := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		names = append(names, tag.Name)
	}
	return names
}

// ExecutionContext records how an evaluation was invoked.
type ExecutionContext struct {
	RunID   string      `json:"run_id"`
	Trigger TriggerType `json:"trigger_type"`
	DryRun  bool        `json:"dry_run"`
}

// ExecutionLog is one append-only audit row: whether a rule matched a
// transaction and which actions were applied.
type ExecutionLog struct {
	ID              int64            `json:"id,omitempty"`
	RuleID          int64            `json:"rule_id"`
	TransactionID   int64            `json:"transaction_id"`
	Matched         bool             `json:"matched"`
	ActionsExecuted []string         `json:"actions_executed"`
	Context         ExecutionContext `json:"execution_context"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
