package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tally/internal/rules"
)

// ImportData is a batch of records written by Import. Transactions reference
// their category, merchant and tags by id. Rule groups carry their rules with
// condition groups and actions.
type ImportData struct {
	Accounts     []rules.Account
	Categories   []rules.Entity
	Merchants    []rules.Entity
	Tags         []rules.Entity
	Transactions []rules.Transaction
	RuleGroups   []rules.RuleGroup
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Accounts   int     `json:"accounts"`
	Entities   int     `json:"entities"`
	Created    []int64 `json:"created"`
	Updated    []int64 `json:"updated"`
	RuleGroups int     `json:"rule_groups"`
	Rules      int     `json:"rules"`
}

// Import upserts every record of data in one transaction. Records with an
// existing id are overwritten; a rule group's rules are replaced wholesale.
//
// After commit each imported transaction is reported to the registered
// change listeners, as created when its id was new and as updated otherwise.
func (s *Store) Import(ctx context.Context, data ImportData) (ImportResult, error) {
	var res ImportResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("import: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, a := range data.Accounts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, owner_id, name) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, name = excluded.name
		`, a.ID, a.OwnerID, a.Name)
		if err != nil {
			return res, fmt.Errorf("import account %d: %w", a.ID, err)
		}
		res.Accounts++
	}

	entitySets := []struct {
		kind     entityKind
		entities []rules.Entity
	}{
		{kindCategory, data.Categories},
		{kindMerchant, data.Merchants},
		{kindTag, data.Tags},
	}
	for _, set := range entitySets {
		for _, e := range set.entities {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO `+string(set.kind)+` (id, owner_id, name) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, name = excluded.name
			`, e.ID, e.OwnerID, e.Name)
			if err != nil {
				return res, fmt.Errorf("import %s %d: %w", set.kind, e.ID, err)
			}
			res.Entities++
		}
	}

	for i := range data.Transactions {
		created, err := importTransaction(ctx, tx, &data.Transactions[i])
		if err != nil {
			return res, err
		}
		if created {
			res.Created = append(res.Created, data.Transactions[i].ID)
		} else {
			res.Updated = append(res.Updated, data.Transactions[i].ID)
		}
	}

	for _, g := range data.RuleGroups {
		n, err := importRuleGroup(ctx, tx, g)
		if err != nil {
			return res, err
		}
		res.RuleGroups++
		res.Rules += n
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("import: commit: %w", err)
	}

	// Ownership may have changed for any entity id.
	s.entities.clear()

	for _, id := range res.Created {
		s.notify(ctx, id, rules.TriggerCreated)
	}
	for _, id := range res.Updated {
		s.notify(ctx, id, rules.TriggerUpdated)
	}
	return res, nil
}

func importTransaction(ctx context.Context, tx *sql.Tx, t *rules.Transaction) (created bool, err error) {
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE id = ?`, t.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("import transaction %d: %w", t.ID, err)
	}

	var categoryID, merchantID any
	if t.Category != nil {
		categoryID = t.Category.ID
	}
	if t.Merchant != nil {
		merchantID = t.Merchant.ID
	}
	typ := t.Type
	if typ == "" {
		typ = rules.TypeExpense
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, account_id, amount, description, partner, category_id, merchant_id, type,
		 note, recipient_note, place, target_iban, source_iban, booked_date, reconciled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			amount = excluded.amount,
			description = excluded.description,
			partner = excluded.partner,
			category_id = excluded.category_id,
			merchant_id = excluded.merchant_id,
			type = excluded.type,
			note = excluded.note,
			recipient_note = excluded.recipient_note,
			place = excluded.place,
			target_iban = excluded.target_iban,
			source_iban = excluded.source_iban,
			booked_date = excluded.booked_date,
			reconciled = excluded.reconciled
	`,
		t.ID,
		t.AccountID,
		t.Amount.String(),
		t.Description,
		t.Partner,
		categoryID,
		merchantID,
		string(typ),
		t.Note,
		t.RecipientNote,
		t.Place,
		t.TargetIBAN,
		t.SourceIBAN,
		t.BookedDate.UTC().Format(dateFormat),
		t.Reconciled,
	)
	if err != nil {
		return false, fmt.Errorf("import transaction %d: %w", t.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ?`, t.ID); err != nil {
		return false, fmt.Errorf("import transaction %d: clear tags: %w", t.ID, err)
	}
	for pos, tag := range t.Tags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transaction_tags (transaction_id, tag_id, position) VALUES (?, ?, ?)
			ON CONFLICT(transaction_id, tag_id) DO NOTHING
		`, t.ID, tag.ID, pos+1)
		if err != nil {
			return false, fmt.Errorf("import transaction %d: tag %d: %w", t.ID, tag.ID, err)
		}
	}

	return exists == 0, nil
}

func importRuleGroup(ctx context.Context, tx *sql.Tx, g rules.RuleGroup) (int, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rule_groups (id, owner_id, name, sort_order, active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			sort_order = excluded.sort_order,
			active = excluded.active
	`, g.ID, g.OwnerID, g.Name, g.Order, g.Active)
	if err != nil {
		return 0, fmt.Errorf("import rule group %d: %w", g.ID, err)
	}

	// Cascades to condition groups, conditions and actions.
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE group_id = ?`, g.ID); err != nil {
		return 0, fmt.Errorf("import rule group %d: clear rules: %w", g.ID, err)
	}

	for _, r := range g.Rules {
		if r.ID != 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, r.ID); err != nil {
				return 0, fmt.Errorf("import rule %d: %w", r.ID, err)
			}
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rules (id, group_id, name, trigger_type, stop_processing, sort_order, active)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, nullableInt(r.ID), g.ID, r.Name, string(r.Trigger), r.StopProcessing, r.Order, r.Active)
		if err != nil {
			return 0, fmt.Errorf("import rule %q: %w", r.Name, err)
		}
		ruleID, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("import rule %q: %w", r.Name, err)
		}

		for _, cg := range r.ConditionGroups {
			logic := cg.Logic
			if logic == "" {
				logic = rules.LogicAnd
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO condition_groups (id, rule_id, logic_operator, sort_order) VALUES (?, ?, ?, ?)
			`, nullableInt(cg.ID), ruleID, string(logic), cg.Order)
			if err != nil {
				return 0, fmt.Errorf("import rule %d: condition group: %w", ruleID, err)
			}
			groupID, err := res.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("import rule %d: condition group: %w", ruleID, err)
			}
			for _, c := range cg.Conditions {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO rule_conditions
					(id, group_id, field, operator, value, case_sensitive, negated, sort_order)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				`, nullableInt(c.ID), groupID, string(c.Field), string(c.Operator), c.Value,
					c.CaseSensitive, c.Negated, c.Order)
				if err != nil {
					return 0, fmt.Errorf("import rule %d: condition: %w", ruleID, err)
				}
			}
		}

		for _, a := range r.Actions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO rule_actions (id, rule_id, action_type, action_value, sort_order, stop_processing)
				VALUES (?, ?, ?, ?, ?, ?)
			`, nullableInt(a.ID), ruleID, string(a.Type), a.Value, a.Order, a.StopProcessing)
			if err != nil {
				return 0, fmt.Errorf("import rule %d: action: %w", ruleID, err)
			}
		}
	}
	return len(g.Rules), nil
}

func nullableInt(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
