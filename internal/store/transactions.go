package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/action"
	"github.com/roach88/tally/internal/rules"
)

// dateFormat is used for booked_date. Values are stored in UTC.
const dateFormat = time.RFC3339

const transactionSelect = `
	SELECT t.id, t.account_id, a.name, a.owner_id, t.amount, t.description, t.partner,
	       c.id, c.owner_id, c.name, m.id, m.owner_id, m.name,
	       t.type, t.note, t.recipient_note, t.place, t.target_iban, t.source_iban,
	       t.booked_date, t.reconciled
	FROM transactions t
	JOIN accounts a ON a.id = t.account_id
	LEFT JOIN categories c ON c.id = t.category_id
	LEFT JOIN merchants m ON m.id = t.merchant_id`

// Transaction returns one transaction with its associations resolved.
// Returns action.ErrNotFound if it does not exist.
func (s *Store) Transaction(ctx context.Context, id int64) (*rules.Transaction, error) {
	txns, err := s.Transactions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("transaction %d: %w", id, action.ErrNotFound)
	}
	return txns[0], nil
}

// Transactions returns the requested transactions in the order given.
// Unknown ids are skipped.
func (s *Store) Transactions(ctx context.Context, ids []int64) ([]*rules.Transaction, error) {
	if len(ids) == 0 {
		return []*rules.Transaction{}, nil
	}
	found, err := s.queryTransactions(ctx,
		transactionSelect+` WHERE t.id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*rules.Transaction, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	out := make([]*rules.Transaction, 0, len(found))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, t)
		}
	}
	return out, nil
}

// TransactionPage returns up to limit transactions of an owner booked within
// [from, to] with id greater than afterID, ordered by id. A zero from or to
// leaves that side of the window open.
func (s *Store) TransactionPage(ctx context.Context, ownerID int64, from, to time.Time, afterID int64, limit int) ([]*rules.Transaction, error) {
	query := transactionSelect + ` WHERE a.owner_id = ? AND t.id > ?`
	args := []any{ownerID, afterID}
	if !from.IsZero() {
		query += ` AND t.booked_date >= ?`
		args = append(args, from.UTC().Format(dateFormat))
	}
	if !to.IsZero() {
		query += ` AND t.booked_date <= ?`
		args = append(args, to.UTC().Format(dateFormat))
	}
	query += ` ORDER BY t.id ASC LIMIT ?`
	args = append(args, limit)

	return s.queryTransactions(ctx, query, args...)
}

// TransactionIDs returns every transaction id of an owner in ascending order.
func (s *Store) TransactionIDs(ctx context.Context, ownerID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.owner_id = ?
		ORDER BY t.id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query transaction ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction ids: %w", err)
	}
	return ids, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]*rules.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txns := []*rules.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	rows.Close()

	if err := s.loadTags(ctx, txns); err != nil {
		return nil, err
	}
	return txns, nil
}

func (s *Store) loadTags(ctx context.Context, txns []*rules.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	byID := make(map[int64]*rules.Transaction, len(txns))
	ids := make([]int64, 0, len(txns))
	for _, t := range txns {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tt.transaction_id, g.id, g.owner_id, g.name
		FROM transaction_tags tt
		JOIN tags g ON g.id = tt.tag_id
		WHERE tt.transaction_id IN (`+placeholders(len(ids))+`)
		ORDER BY tt.transaction_id ASC, tt.position ASC, g.id ASC
	`, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var txnID int64
		var tag rules.Entity
		if err := rows.Scan(&txnID, &tag.ID, &tag.OwnerID, &tag.Name); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if t, ok := byID[txnID]; ok {
			t.Tags = append(t.Tags, tag)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate tags: %w", err)
	}
	return nil
}

func scanTransaction(sc scanner) (*rules.Transaction, error) {
	var (
		t                      rules.Transaction
		amount, booked         string
		catID, catOwner        sql.NullInt64
		catName                sql.NullString
		merchantID, merchOwner sql.NullInt64
		merchantName           sql.NullString
	)
	err := sc.Scan(&t.ID, &t.AccountID, &t.AccountName, &t.OwnerID, &amount, &t.Description, &t.Partner,
		&catID, &catOwner, &catName, &merchantID, &merchOwner, &merchantName,
		&t.Type, &t.Note, &t.RecipientNote, &t.Place, &t.TargetIBAN, &t.SourceIBAN,
		&booked, &t.Reconciled)
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: parse amount %q: %w", t.ID, amount, err)
	}
	t.BookedDate, err = time.Parse(dateFormat, booked)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: parse booked_date %q: %w", t.ID, booked, err)
	}
	if catID.Valid {
		t.Category = &rules.Entity{ID: catID.Int64, OwnerID: catOwner.Int64, Name: catName.String}
	}
	if merchantID.Valid {
		t.Merchant = &rules.Entity{ID: merchantID.Int64, OwnerID: merchOwner.Int64, Name: merchantName.String}
	}
	t.Tags = []rules.Entity{}
	return &t, nil
}

// Begin starts the unit of work for one rule's actions.
func (s *Store) Begin(ctx context.Context) (action.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx, store: s, created: make(map[entityKey]rules.Entity)}, nil
}

// Tx applies transaction mutations inside one SQLite transaction. It
// satisfies action.Tx.
type Tx struct {
	tx      *sql.Tx
	store   *Store
	created map[entityKey]rules.Entity
}

// Commit commits the mutations and publishes entities created by upserts to
// the entity cache.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for k, e := range t.created {
		t.store.entities.put(k.kind, e)
	}
	return nil
}

// Rollback discards the mutations. Rolling back a finished transaction is
// not an error.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *Tx) Category(ctx context.Context, id int64) (*rules.Entity, error) {
	return t.entity(ctx, kindCategory, id)
}

func (t *Tx) Merchant(ctx context.Context, id int64) (*rules.Entity, error) {
	return t.entity(ctx, kindMerchant, id)
}

func (t *Tx) Tag(ctx context.Context, id int64) (*rules.Entity, error) {
	return t.entity(ctx, kindTag, id)
}

func (t *Tx) entity(ctx context.Context, kind entityKind, id int64) (*rules.Entity, error) {
	if e, ok := t.created[entityKey{kind, id}]; ok {
		return &e, nil
	}
	if e, ok := t.store.entities.get(kind, id); ok {
		return &e, nil
	}
	var e rules.Entity
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, owner_id, name FROM `+string(kind)+` WHERE id = ?`, id,
	).Scan(&e.ID, &e.OwnerID, &e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, action.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s %d: %w", kind, id, err)
	}
	t.store.entities.put(kind, e)
	return &e, nil
}

func (t *Tx) SetCategory(ctx context.Context, txnID int64, id *int64) error {
	return t.update(ctx, txnID, "category_id", nullableID(id))
}

func (t *Tx) SetMerchant(ctx context.Context, txnID int64, id *int64) error {
	return t.update(ctx, txnID, "merchant_id", nullableID(id))
}

func (t *Tx) SetDescription(ctx context.Context, txnID int64, s string) error {
	return t.update(ctx, txnID, "description", s)
}

func (t *Tx) SetNote(ctx context.Context, txnID int64, s string) error {
	return t.update(ctx, txnID, "note", s)
}

func (t *Tx) SetType(ctx context.Context, txnID int64, typ rules.TransactionType) error {
	return t.update(ctx, txnID, "type", string(typ))
}

func (t *Tx) SetReconciled(ctx context.Context, txnID int64, reconciled bool) error {
	return t.update(ctx, txnID, "reconciled", reconciled)
}

// update sets one column. column is always a literal from this file.
func (t *Tx) update(ctx context.Context, txnID int64, column string, value any) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE transactions SET `+column+` = ? WHERE id = ?`, value, txnID)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %d: %w", txnID, action.ErrNotFound)
	}
	return nil
}

func (t *Tx) AttachTag(ctx context.Context, txnID, tagID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transaction_tags (transaction_id, tag_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM transaction_tags WHERE transaction_id = ?))
		ON CONFLICT(transaction_id, tag_id) DO NOTHING
	`, txnID, tagID, txnID)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (t *Tx) DetachTag(ctx context.Context, txnID, tagID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM transaction_tags WHERE transaction_id = ? AND tag_id = ?`, txnID, tagID)
	if err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}
	return nil
}

func (t *Tx) DetachAllTags(ctx context.Context, txnID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ?`, txnID)
	if err != nil {
		return fmt.Errorf("detach tags: %w", err)
	}
	return nil
}

func (t *Tx) UpsertCategory(ctx context.Context, ownerID int64, name string) (*rules.Entity, error) {
	return t.upsert(ctx, kindCategory, ownerID, name)
}

func (t *Tx) UpsertMerchant(ctx context.Context, ownerID int64, name string) (*rules.Entity, error) {
	return t.upsert(ctx, kindMerchant, ownerID, name)
}

func (t *Tx) UpsertTag(ctx context.Context, ownerID int64, name string) (*rules.Entity, error) {
	return t.upsert(ctx, kindTag, ownerID, name)
}

// upsert finds the entity by case-insensitive name within the owner or
// inserts it. New rows are held back from the shared cache until Commit.
func (t *Tx) upsert(ctx context.Context, kind entityKind, ownerID int64, name string) (*rules.Entity, error) {
	var e rules.Entity
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, owner_id, name FROM `+string(kind)+` WHERE owner_id = ? AND name = ? COLLATE NOCASE`,
		ownerID, name,
	).Scan(&e.ID, &e.OwnerID, &e.Name)
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find %s %q: %w", kind, name, err)
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO `+string(kind)+` (owner_id, name) VALUES (?, ?)`, ownerID, name)
	if err != nil {
		return nil, fmt.Errorf("insert %s %q: %w", kind, name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert %s %q: %w", kind, name, err)
	}
	e = rules.Entity{ID: id, OwnerID: ownerID, Name: name}
	t.created[entityKey{kind, id}] = e
	return &e, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
