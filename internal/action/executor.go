package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/tally/internal/rules"
)

// Executor applies actions to transactions.
type Executor struct {
	notifier Notifier
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithNotifier delivers send_notification actions through n. Without a
// notifier the request is only logged.
func WithNotifier(n Notifier) Option {
	return func(e *Executor) {
		e.notifier = n
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies act to txn through m. A nil error means the action
// succeeded. On success txn reflects the new field values so that later
// conditions observe them.
//
// Faults raised below the executor, including panics, are returned as errors.
// A failed action leaves txn unchanged, although m may hold partial writes
// that the caller is expected to roll back.
func (e *Executor) Execute(ctx context.Context, m Mutator, act Action, txn *rules.Transaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %T: panic: %v", act, r)
		}
	}()

	switch a := act.(type) {
	case SetCategory:
		return e.setCategory(ctx, m, txn, a.CategoryID)
	case UnsetCategory:
		if txn.Category == nil {
			return nil
		}
		if err := m.SetCategory(ctx, txn.ID, nil); err != nil {
			return fmt.Errorf("clear category: %w", err)
		}
		txn.Category = nil
		return nil
	case SetMerchant:
		return e.setMerchant(ctx, m, txn, a.MerchantID)
	case UnsetMerchant:
		if txn.Merchant == nil {
			return nil
		}
		if err := m.SetMerchant(ctx, txn.ID, nil); err != nil {
			return fmt.Errorf("clear merchant: %w", err)
		}
		txn.Merchant = nil
		return nil
	case AddTag:
		tag, err := owned(txn, "tag", a.TagID)(m.Tag(ctx, a.TagID))
		if err != nil {
			return err
		}
		return e.attachTag(ctx, m, txn, *tag)
	case RemoveTag:
		if !txn.HasTag(a.TagID) {
			return nil
		}
		if err := m.DetachTag(ctx, txn.ID, a.TagID); err != nil {
			return fmt.Errorf("remove tag %d: %w", a.TagID, err)
		}
		kept := make([]rules.Entity, 0, len(txn.Tags))
		for _, t := range txn.Tags {
			if t.ID != a.TagID {
				kept = append(kept, t)
			}
		}
		txn.Tags = kept
		return nil
	case RemoveAllTags:
		if len(txn.Tags) == 0 {
			return nil
		}
		if err := m.DetachAllTags(ctx, txn.ID); err != nil {
			return fmt.Errorf("remove all tags: %w", err)
		}
		txn.Tags = []rules.Entity{}
		return nil
	case SetDescription:
		return e.setDescription(ctx, m, txn, a.Text)
	case AppendDescription:
		if hasEnd(txn.Description, a.Text, strings.HasSuffix) {
			return nil
		}
		return e.setDescription(ctx, m, txn, joinText(txn.Description, a.Text))
	case PrependDescription:
		if hasEnd(txn.Description, a.Text, strings.HasPrefix) {
			return nil
		}
		return e.setDescription(ctx, m, txn, joinText(a.Text, txn.Description))
	case SetNote:
		return e.setNote(ctx, m, txn, a.Text)
	case AppendNote:
		if hasEnd(txn.Note, a.Text, strings.HasSuffix) {
			return nil
		}
		return e.setNote(ctx, m, txn, joinText(txn.Note, a.Text))
	case SetType:
		t, err := rules.ParseTransactionType(string(a.Type))
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidType, a.Type)
		}
		if txn.Type == t {
			return nil
		}
		if err := m.SetType(ctx, txn.ID, t); err != nil {
			return fmt.Errorf("set type: %w", err)
		}
		txn.Type = t
		return nil
	case MarkReconciled:
		if txn.Reconciled {
			return nil
		}
		if err := m.SetReconciled(ctx, txn.ID, true); err != nil {
			return fmt.Errorf("mark reconciled: %w", err)
		}
		txn.Reconciled = true
		return nil
	case SendNotification:
		return e.notify(ctx, txn, a.Message)
	case CreateCategory:
		cat, err := m.UpsertCategory(ctx, txn.OwnerID, a.Name)
		if err != nil {
			return fmt.Errorf("upsert category %q: %w", a.Name, err)
		}
		return e.setCategory(ctx, m, txn, cat.ID)
	case CreateMerchant:
		merchant, err := m.UpsertMerchant(ctx, txn.OwnerID, a.Name)
		if err != nil {
			return fmt.Errorf("upsert merchant %q: %w", a.Name, err)
		}
		return e.setMerchant(ctx, m, txn, merchant.ID)
	case CreateTag:
		tag, err := m.UpsertTag(ctx, txn.OwnerID, a.Name)
		if err != nil {
			return fmt.Errorf("upsert tag %q: %w", a.Name, err)
		}
		if tag.OwnerID != txn.OwnerID {
			return fmt.Errorf("tag %d: %w", tag.ID, ErrCrossOwner)
		}
		return e.attachTag(ctx, m, txn, *tag)
	case nil:
		return fmt.Errorf("%w: nil action", ErrInvalidValue)
	}
	return fmt.Errorf("%w: unsupported action %T", ErrInvalidValue, act)
}

func (e *Executor) setCategory(ctx context.Context, m Mutator, txn *rules.Transaction, id int64) error {
	cat, err := owned(txn, "category", id)(m.Category(ctx, id))
	if err != nil {
		return err
	}
	if txn.Category != nil && txn.Category.ID == id {
		return nil
	}
	if err := m.SetCategory(ctx, txn.ID, &id); err != nil {
		return fmt.Errorf("set category %d: %w", id, err)
	}
	txn.Category = cat
	return nil
}

func (e *Executor) setMerchant(ctx context.Context, m Mutator, txn *rules.Transaction, id int64) error {
	merchant, err := owned(txn, "merchant", id)(m.Merchant(ctx, id))
	if err != nil {
		return err
	}
	if txn.Merchant != nil && txn.Merchant.ID == id {
		return nil
	}
	if err := m.SetMerchant(ctx, txn.ID, &id); err != nil {
		return fmt.Errorf("set merchant %d: %w", id, err)
	}
	txn.Merchant = merchant
	return nil
}

func (e *Executor) attachTag(ctx context.Context, m Mutator, txn *rules.Transaction, tag rules.Entity) error {
	if txn.HasTag(tag.ID) {
		return nil
	}
	if err := m.AttachTag(ctx, txn.ID, tag.ID); err != nil {
		return fmt.Errorf("add tag %d: %w", tag.ID, err)
	}
	txn.Tags = append(txn.Tags, tag)
	return nil
}

func (e *Executor) setDescription(ctx context.Context, m Mutator, txn *rules.Transaction, s string) error {
	if txn.Description == s {
		return nil
	}
	if err := m.SetDescription(ctx, txn.ID, s); err != nil {
		return fmt.Errorf("set description: %w", err)
	}
	txn.Description = s
	return nil
}

func (e *Executor) setNote(ctx context.Context, m Mutator, txn *rules.Transaction, s string) error {
	if txn.Note == s {
		return nil
	}
	if err := m.SetNote(ctx, txn.ID, s); err != nil {
		return fmt.Errorf("set note: %w", err)
	}
	txn.Note = s
	return nil
}

func (e *Executor) notify(ctx context.Context, txn *rules.Transaction, message string) error {
	if e.notifier == nil {
		e.logger.Info("notification requested",
			"owner_id", txn.OwnerID,
			"transaction_id", txn.ID,
			"message", message)
		return nil
	}
	if err := e.notifier.Notify(ctx, txn.OwnerID, txn.ID, message); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// owned wraps an entity lookup and rejects entities of another owner.
func owned(txn *rules.Transaction, kind string, id int64) func(*rules.Entity, error) (*rules.Entity, error) {
	return func(ent *rules.Entity, err error) (*rules.Entity, error) {
		if err != nil {
			return nil, fmt.Errorf("%s %d: %w", kind, id, err)
		}
		if ent == nil {
			return nil, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
		}
		if ent.OwnerID != txn.OwnerID {
			return nil, fmt.Errorf("%s %d: %w", kind, id, ErrCrossOwner)
		}
		return ent, nil
	}
}

func hasEnd(s, text string, match func(s, fix string) bool) bool {
	return strings.TrimSpace(text) == "" || match(s, text)
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}
