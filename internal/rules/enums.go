package rules

import (
	"fmt"
	"strings"
)

// TriggerType is the event context that makes a rule eligible.
type TriggerType string

const (
	TriggerCreated TriggerType = "created"
	TriggerUpdated TriggerType = "updated"
	TriggerManual  TriggerType = "manual"
	// TriggerBatch is the internal replay mode. Selecting with it bypasses
	// trigger filtering: every active rule is eligible.
	TriggerBatch TriggerType = "batch"
)

// ValidTriggerTypes lists the trigger vocabulary in declaration order.
var ValidTriggerTypes = []TriggerType{TriggerCreated, TriggerUpdated, TriggerManual, TriggerBatch}

// ParseTriggerType validates a trigger name. Matching is case-insensitive.
func ParseTriggerType(s string) (TriggerType, error) {
	t := TriggerType(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidTriggerTypes {
		if v == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown trigger type %q", s)
}

// LogicOperator combines the conditions of one ConditionGroup.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// ParseLogicOperator validates a logic operator name. An empty name means AND.
func ParseLogicOperator(s string) (LogicOperator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return LogicAnd, nil
	case "OR":
		return LogicOr, nil
	default:
		return "", fmt.Errorf("unknown logic operator %q", s)
	}
}

// Field names a readable transaction field.
type Field string

const (
	FieldAmount        Field = "amount"
	FieldDescription   Field = "description"
	FieldPartner       Field = "partner"
	FieldCategory      Field = "category"
	FieldMerchant      Field = "merchant"
	FieldAccount       Field = "account"
	FieldType          Field = "type"
	FieldNote          Field = "note"
	FieldRecipientNote Field = "recipient_note"
	FieldPlace         Field = "place"
	FieldTargetIBAN    Field = "target_iban"
	FieldSourceIBAN    Field = "source_iban"
	FieldBookedDate    Field = "booked_date"
	FieldTags          Field = "tags"
)

// ValidFields lists every readable field.
var ValidFields = []Field{
	FieldAmount, FieldDescription, FieldPartner, FieldCategory, FieldMerchant,
	FieldAccount, FieldType, FieldNote, FieldRecipientNote, FieldPlace,
	FieldTargetIBAN, FieldSourceIBAN, FieldBookedDate, FieldTags,
}

// ParseField validates a field name.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidFields {
		if v == f {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpRegex              Operator = "regex"
	OpWildcard           Operator = "wildcard"
	OpIsEmpty            Operator = "is_empty"
	OpIsNotEmpty         Operator = "is_not_empty"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpBetween            Operator = "between"
)

// ValidOperators lists every operator.
var ValidOperators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual,
	OpRegex, OpWildcard, OpIsEmpty, OpIsNotEmpty, OpIn, OpNotIn, OpBetween,
}

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, error) {
	o := Operator(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidOperators {
		if v == o {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// IsStringComparison reports whether the case_sensitive flag applies to op.
func (o Operator) IsStringComparison() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpWildcard, OpIn, OpNotIn:
		return true
	}
	return false
}

// ActionType names one kind of rule action.
type ActionType string

const (
	ActionSetCategory        ActionType = "set_category"
	ActionUnsetCategory      ActionType = "unset_category"
	ActionSetMerchant        ActionType = "set_merchant"
	ActionUnsetMerchant      ActionType = "unset_merchant"
	ActionAddTag             ActionType = "add_tag"
	ActionRemoveTag          ActionType = "remove_tag"
	ActionRemoveAllTags      ActionType = "remove_all_tags"
	ActionSetDescription     ActionType = "set_description"
	ActionAppendDescription  ActionType = "append_description"
	ActionPrependDescription ActionType = "prepend_description"
	ActionSetNote            ActionType = "set_note"
	ActionAppendNote         ActionType = "append_note"
	ActionSetType            ActionType = "set_type"
	ActionMarkReconciled     ActionType = "mark_reconciled"
	ActionSendNotification   ActionType = "send_notification"
	ActionCreateCategory     ActionType = "create_category"
	ActionCreateMerchant     ActionType = "create_merchant"
	ActionCreateTag          ActionType = "create_tag"
)

// ValidActionTypes lists every action type.
var ValidActionTypes = []ActionType{
	ActionSetCategory, ActionUnsetCategory, ActionSetMerchant, ActionUnsetMerchant,
	ActionAddTag, ActionRemoveTag, ActionRemoveAllTags,
	ActionSetDescription, ActionAppendDescription, ActionPrependDescription,
	ActionSetNote, ActionAppendNote, ActionSetType, ActionMarkReconciled,
	ActionSendNotification, ActionCreateCategory, ActionCreateMerchant, ActionCreateTag,
}

// ParseActionType validates an action type name.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidActionTypes {
		if v == a {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// TransactionType is the closed set of transaction kinds set_type accepts.
type TransactionType string

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

// ValidTransactionTypes lists every transaction type.
var ValidTransactionTypes = []TransactionType{TypeIncome, TypeExpense, TypeTransfer}

// ParseTransactionType validates a transaction type name.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidTransactionTypes {
		if v == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}
