package action

import (
	"context"
	"errors"

	"github.com/roach88/tally/internal/rules"
)

var (
	// ErrCrossOwner is returned when an action references an entity owned by
	// someone other than the transaction's account owner.
	ErrCrossOwner = errors.New("entity belongs to a different owner")

	// ErrInvalidType is returned for a transaction type outside the closed set.
	ErrInvalidType = errors.New("invalid transaction type")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidValue is returned for an action value that cannot be parsed.
	ErrInvalidValue = errors.New("invalid action value")
)

// Mutator is the transaction mutation API. Every call is scoped to one
// transaction record and runs inside the caller's unit of work.
//
// Lookups return ErrNotFound for unknown ids.
type Mutator interface {
	Category(ctx context.Context, id int64) (*rules.Entity, error)
	Merchant(ctx context.Context, id int64) (*rules.Entity, error)
	Tag(ctx context.Context, id int64) (*rules.Entity, error)

	// SetCategory and SetMerchant clear the association when id is nil.
	SetCategory(ctx context.Context, txnID int64, id *int64) error
	SetMerchant(ctx context.Context, txnID int64, id *int64) error
	SetDescription(ctx context.Context, txnID int64, s string) error
	SetNote(ctx context.Context, txnID int64, s string) error
	SetType(ctx context.Context, txnID int64, t rules.TransactionType) error
	SetReconciled(ctx context.Context, txnID int64, reconciled bool) error

	AttachTag(ctx context.Context, txnID, tagID int64) error
	DetachTag(ctx context.Context, txnID, tagID int64) error
	DetachAllTags(ctx context.Context, txnID int64) error

	// Upserts find an entity by name within the owner's scope or create it.
	UpsertCategory(ctx context.Context, ownerID int64, name string) (*rules.Entity, error)
	UpsertMerchant(ctx context.Context, ownerID int64, name string) (*rules.Entity, error)
	UpsertTag(ctx context.Context, ownerID int64, name string) (*rules.Entity, error)
}

// Tx is a Mutator bound to one atomic unit of work.
type Tx interface {
	Mutator
	Commit() error
	Rollback() error
}

// Notifier delivers send_notification actions.
type Notifier interface {
	Notify(ctx context.Context, ownerID, txnID int64, message string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ownerID, txnID int64, message string) error

func (f NotifierFunc) Notify(ctx context.Context, ownerID, txnID int64, message string) error {
	return f(ctx, ownerID, txnID, message)
}
