// Package action implements rule actions as a closed set of variants.
//
// Every action kind has its own struct type. Parse converts the stored
// ActionSpec form into a variant and the Executor applies a variant to a
// transaction through a Mutator.
package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/tally/internal/rules"
)

// Action is one parsed rule action. The interface is sealed: only the
// variants declared in this package implement it.
type Action interface {
	Kind() rules.ActionType
	Describe() string
	sealed()
}

type (
	SetCategory        struct{ CategoryID int64 }
	UnsetCategory      struct{}
	SetMerchant        struct{ MerchantID int64 }
	UnsetMerchant      struct{}
	AddTag             struct{ TagID int64 }
	RemoveTag          struct{ TagID int64 }
	RemoveAllTags      struct{}
	SetDescription     struct{ Text string }
	AppendDescription  struct{ Text string }
	PrependDescription struct{ Text string }
	SetNote            struct{ Text string }
	AppendNote         struct{ Text string }
	SetType            struct{ Type rules.TransactionType }
	MarkReconciled     struct{}
	SendNotification   struct{ Message string }
	CreateCategory     struct{ Name string }
	CreateMerchant     struct{ Name string }
	CreateTag          struct{ Name string }
)

func (SetCategory) Kind() rules.ActionType        { return rules.ActionSetCategory }
func (UnsetCategory) Kind() rules.ActionType      { return rules.ActionUnsetCategory }
func (SetMerchant) Kind() rules.ActionType        { return rules.ActionSetMerchant }
func (UnsetMerchant) Kind() rules.ActionType      { return rules.ActionUnsetMerchant }
func (AddTag) Kind() rules.ActionType             { return rules.ActionAddTag }
func (RemoveTag) Kind() rules.ActionType          { return rules.ActionRemoveTag }
func (RemoveAllTags) Kind() rules.ActionType      { return rules.ActionRemoveAllTags }
func (SetDescription) Kind() rules.ActionType     { return rules.ActionSetDescription }
func (AppendDescription) Kind() rules.ActionType  { return rules.ActionAppendDescription }
func (PrependDescription) Kind() rules.ActionType { return rules.ActionPrependDescription }
func (SetNote) Kind() rules.ActionType            { return rules.ActionSetNote }
func (AppendNote) Kind() rules.ActionType         { return rules.ActionAppendNote }
func (SetType) Kind() rules.ActionType            { return rules.ActionSetType }
func (MarkReconciled) Kind() rules.ActionType     { return rules.ActionMarkReconciled }
func (SendNotification) Kind() rules.ActionType   { return rules.ActionSendNotification }
func (CreateCategory) Kind() rules.ActionType     { return rules.ActionCreateCategory }
func (CreateMerchant) Kind() rules.ActionType     { return rules.ActionCreateMerchant }
func (CreateTag) Kind() rules.ActionType          { return rules.ActionCreateTag }

func (a SetCategory) Describe() string    { return fmt.Sprintf("Set category to #%d", a.CategoryID) }
func (UnsetCategory) Describe() string    { return "Clear category" }
func (a SetMerchant) Describe() string    { return fmt.Sprintf("Set merchant to #%d", a.MerchantID) }
func (UnsetMerchant) Describe() string    { return "Clear merchant" }
func (a AddTag) Describe() string         { return fmt.Sprintf("Add tag #%d", a.TagID) }
func (a RemoveTag) Describe() string      { return fmt.Sprintf("Remove tag #%d", a.TagID) }
func (RemoveAllTags) Describe() string    { return "Remove all tags" }
func (a SetDescription) Describe() string { return fmt.Sprintf("Set description to %q", a.Text) }
func (a AppendDescription) Describe() string {
	return fmt.Sprintf("Append %q to description", a.Text)
}
func (a PrependDescription) Describe() string {
	return fmt.Sprintf("Prepend %q to description", a.Text)
}
func (a SetNote) Describe() string    { return fmt.Sprintf("Set note to %q", a.Text) }
func (a AppendNote) Describe() string { return fmt.Sprintf("Append %q to note", a.Text) }
func (a SetType) Describe() string    { return fmt.Sprintf("Set type to %s", a.Type) }
func (MarkReconciled) Describe() string {
	return "Mark as reconciled"
}
func (a SendNotification) Describe() string {
	return fmt.Sprintf("Send notification %q", a.Message)
}
func (a CreateCategory) Describe() string {
	return fmt.Sprintf("Assign category %q, creating it if missing", a.Name)
}
func (a CreateMerchant) Describe() string {
	return fmt.Sprintf("Assign merchant %q, creating it if missing", a.Name)
}
func (a CreateTag) Describe() string {
	return fmt.Sprintf("Add tag %q, creating it if missing", a.Name)
}

func (SetCategory) sealed()        {}
func (UnsetCategory) sealed()      {}
func (SetMerchant) sealed()        {}
func (UnsetMerchant) sealed()      {}
func (AddTag) sealed()             {}
func (RemoveTag) sealed()          {}
func (RemoveAllTags) sealed()      {}
func (SetDescription) sealed()     {}
func (AppendDescription) sealed()  {}
func (PrependDescription) sealed() {}
func (SetNote) sealed()            {}
func (AppendNote) sealed()         {}
func (SetType) sealed()            {}
func (MarkReconciled) sealed()     {}
func (SendNotification) sealed()   {}
func (CreateCategory) sealed()     {}
func (CreateMerchant) sealed()     {}
func (CreateTag) sealed()          {}

// Parse converts a stored action into its variant.
func Parse(spec rules.ActionSpec) (Action, error) {
	kind, err := rules.ParseActionType(string(spec.Type))
	if err != nil {
		return nil, err
	}
	switch kind {
	case rules.ActionSetCategory:
		id, err := parseID(spec.Value)
		if err != nil {
			return nil, err
		}
		return SetCategory{CategoryID: id}, nil
	case rules.ActionUnsetCategory:
		return UnsetCategory{}, nil
	case rules.ActionSetMerchant:
		id, err := parseID(spec.Value)
		if err != nil {
			return nil, err
		}
		return SetMerchant{MerchantID: id}, nil
	case rules.ActionUnsetMerchant:
		return UnsetMerchant{}, nil
	case rules.ActionAddTag:
		id, err := parseID(spec.Value)
		if err != nil {
			return nil, err
		}
		return AddTag{TagID: id}, nil
	case rules.ActionRemoveTag:
		id, err := parseID(spec.Value)
		if err != nil {
			return nil, err
		}
		return RemoveTag{TagID: id}, nil
	case rules.ActionRemoveAllTags:
		return RemoveAllTags{}, nil
	case rules.ActionSetDescription:
		return SetDescription{Text: spec.Value}, nil
	case rules.ActionAppendDescription:
		return AppendDescription{Text: spec.Value}, nil
	case rules.ActionPrependDescription:
		return PrependDescription{Text: spec.Value}, nil
	case rules.ActionSetNote:
		return SetNote{Text: spec.Value}, nil
	case rules.ActionAppendNote:
		return AppendNote{Text: spec.Value}, nil
	case rules.ActionSetType:
		t, err := rules.ParseTransactionType(spec.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidType, spec.Value)
		}
		return SetType{Type: t}, nil
	case rules.ActionMarkReconciled:
		return MarkReconciled{}, nil
	case rules.ActionSendNotification:
		return SendNotification{Message: spec.Value}, nil
	case rules.ActionCreateCategory:
		name, err := parseName(spec.Value)
		if err != nil {
			return nil, err
		}
		return CreateCategory{Name: name}, nil
	case rules.ActionCreateMerchant:
		name, err := parseName(spec.Value)
		if err != nil {
			return nil, err
		}
		return CreateMerchant{Name: name}, nil
	case rules.ActionCreateTag:
		name, err := parseName(spec.Value)
		if err != nil {
			return nil, err
		}
		return CreateTag{Name: name}, nil
	}
	return nil, fmt.Errorf("%w: unhandled action type %q", ErrInvalidValue, kind)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: expected entity id, got %q", ErrInvalidValue, s)
	}
	return id, nil
}

func parseName(s string) (string, error) {
	name := strings.TrimSpace(s)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidValue)
	}
	return name, nil
}
