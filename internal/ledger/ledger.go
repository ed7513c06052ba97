// Package ledger loads ledger documents: accounts, categories, merchants,
// tags, transactions and rule definitions written as YAML or CUE.
//
// YAML documents are decoded strictly (unknown fields are rejected). CUE
// documents are unified with the embedded #Document schema and must be
// concrete. Both forms then go through Validate before they are converted
// into a store.ImportData.
package ledger

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tally/internal/action"
	"github.com/roach88/tally/internal/rules"
	"github.com/roach88/tally/internal/store"
)

//go:embed schema.cue
var schemaCUE string

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// DetectFormat picks the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported ledger format %q (want .yaml, .yml or .cue)", filepath.Ext(path))
	}
}

// Document is a ledger file.
type Document struct {
	Accounts     []Named       `yaml:"accounts" json:"accounts"`
	Categories   []Named       `yaml:"categories" json:"categories"`
	Merchants    []Named       `yaml:"merchants" json:"merchants"`
	Tags         []Named       `yaml:"tags" json:"tags"`
	Transactions []Transaction `yaml:"transactions" json:"transactions"`
	RuleGroups   []RuleGroup   `yaml:"rule_groups" json:"rule_groups"`
}

// Named is an account, category, merchant or tag.
type Named struct {
	ID    int64  `yaml:"id" json:"id"`
	Owner int64  `yaml:"owner" json:"owner"`
	Name  string `yaml:"name" json:"name"`
}

// Transaction references its account, category, merchant and tags by id.
// Booked is a date ("2006-01-02") or an RFC 3339 timestamp.
type Transaction struct {
	ID            int64   `yaml:"id" json:"id"`
	Account       int64   `yaml:"account" json:"account"`
	Amount        string  `yaml:"amount" json:"amount"`
	Booked        string  `yaml:"booked" json:"booked"`
	Description   string  `yaml:"description" json:"description"`
	Partner       string  `yaml:"partner" json:"partner"`
	Category      *int64  `yaml:"category" json:"category"`
	Merchant      *int64  `yaml:"merchant" json:"merchant"`
	Type          string  `yaml:"type" json:"type"`
	Note          string  `yaml:"note" json:"note"`
	RecipientNote string  `yaml:"recipient_note" json:"recipient_note"`
	Place         string  `yaml:"place" json:"place"`
	TargetIBAN    string  `yaml:"target_iban" json:"target_iban"`
	SourceIBAN    string  `yaml:"source_iban" json:"source_iban"`
	Tags          []int64 `yaml:"tags" json:"tags"`
	Reconciled    bool    `yaml:"reconciled" json:"reconciled"`
}

// RuleGroup is an ordered container of rules. Active defaults to true.
type RuleGroup struct {
	ID     int64  `yaml:"id" json:"id"`
	Owner  int64  `yaml:"owner" json:"owner"`
	Name   string `yaml:"name" json:"name"`
	Order  int    `yaml:"order" json:"order"`
	Active *bool  `yaml:"active" json:"active"`
	Rules  []Rule `yaml:"rules" json:"rules"`
}

// Rule is one rule definition. A zero Order means the rule's position in the
// group. Active defaults to true.
type Rule struct {
	ID             int64            `yaml:"id" json:"id"`
	Name           string           `yaml:"name" json:"name"`
	Trigger        string           `yaml:"trigger" json:"trigger"`
	Order          int              `yaml:"order" json:"order"`
	Active         *bool            `yaml:"active" json:"active"`
	StopProcessing bool             `yaml:"stop_processing" json:"stop_processing"`
	When           []ConditionGroup `yaml:"when" json:"when"`
	Actions        []Action         `yaml:"actions" json:"actions"`
}

// ConditionGroup combines its conditions with Logic (AND by default).
type ConditionGroup struct {
	Logic      string      `yaml:"logic" json:"logic"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

type Condition struct {
	Field         string `yaml:"field" json:"field"`
	Operator      string `yaml:"operator" json:"operator"`
	Value         string `yaml:"value" json:"value"`
	CaseSensitive bool   `yaml:"case_sensitive" json:"case_sensitive"`
	Negated       bool   `yaml:"negated" json:"negated"`
}

type Action struct {
	Type           string `yaml:"type" json:"type"`
	Value          string `yaml:"value" json:"value"`
	StopProcessing bool   `yaml:"stop_processing" json:"stop_processing"`
}

// LoadError is a problem found while loading or validating a document.
type LoadError struct {
	File    string
	Line    int
	Column  int
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Load reads and decodes the document at path. The format follows the file
// extension.
func Load(path string) (*Document, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return Parse(filepath.Base(path), data, format)
}

// Parse decodes a document. name is used in error messages.
func Parse(name string, data []byte, format Format) (*Document, error) {
	switch format {
	case FormatYAML:
		return parseYAML(name, data)
	case FormatCUE:
		return parseCUE(name, data)
	default:
		return nil, fmt.Errorf("unsupported ledger format %q", format)
	}
}

func parseYAML(name string, data []byte) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&doc); err != nil {
		return nil, &LoadError{File: name, Message: fmt.Sprintf("parse YAML: %v", err)}
	}
	return &doc, nil
}

func parseCUE(name string, data []byte) (*Document, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile ledger schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(name))
	if err := value.Err(); err != nil {
		return nil, cueLoadErrors(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Document")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadErrors(err)
	}

	var doc Document
	if err := unified.Decode(&doc); err != nil {
		return nil, &LoadError{File: name, Message: fmt.Sprintf("decode CUE: %v", err)}
	}
	return &doc, nil
}

// cueLoadErrors converts CUE errors into LoadErrors carrying positions.
func cueLoadErrors(err error) error {
	var errs []error
	for _, e := range cueerrors.Errors(err) {
		le := &LoadError{Message: e.Error()}
		if pos := e.Position(); pos.IsValid() {
			le.File = pos.Filename()
			le.Line = pos.Line()
			le.Column = pos.Column()
		}
		errs = append(errs, le)
	}
	if len(errs) == 0 {
		return err
	}
	return errors.Join(errs...)
}

// Validate reports every problem in the document: duplicate ids, malformed
// amounts and dates, unknown enum values, and actions that cannot be
// parsed. Entity references are checked by the store on import.
func (d *Document) Validate() []error {
	v := &docValidator{}

	for kind, list := range map[string][]Named{
		"accounts":   d.Accounts,
		"categories": d.Categories,
		"merchants":  d.Merchants,
		"tags":       d.Tags,
	} {
		v.named(kind, list)
	}

	seen := make(map[int64]bool)
	for i, t := range d.Transactions {
		path := fmt.Sprintf("transactions[%d]", i)
		if seen[t.ID] {
			v.add(path, "duplicate transaction id %d", t.ID)
		}
		seen[t.ID] = true
		if t.ID <= 0 {
			v.add(path, "id must be positive")
		}
		if t.Account <= 0 {
			v.add(path, "account is required")
		}
		if _, err := decimal.NewFromString(t.Amount); err != nil {
			v.add(path, "invalid amount %q", t.Amount)
		}
		if _, err := parseBooked(t.Booked); err != nil {
			v.add(path, "%v", err)
		}
		if t.Type != "" {
			if _, err := rules.ParseTransactionType(t.Type); err != nil {
				v.add(path, "%v", err)
			}
		}
	}

	ruleIDs := make(map[int64]bool)
	groupIDs := make(map[int64]bool)
	for gi, g := range d.RuleGroups {
		gpath := fmt.Sprintf("rule_groups[%d]", gi)
		if groupIDs[g.ID] {
			v.add(gpath, "duplicate rule group id %d", g.ID)
		}
		groupIDs[g.ID] = true
		if g.ID <= 0 || g.Owner <= 0 {
			v.add(gpath, "id and owner must be positive")
		}

		for ri, r := range g.Rules {
			rpath := fmt.Sprintf("%s.rules[%d]", gpath, ri)
			if r.ID != 0 {
				if ruleIDs[r.ID] {
					v.add(rpath, "duplicate rule id %d", r.ID)
				}
				ruleIDs[r.ID] = true
			}
			rule, err := convertRule(r, ri)
			if err != nil {
				v.add(rpath, "%v", err)
				continue
			}
			if err := rules.Validate(rule); err != nil {
				var ve *rules.ValidationError
				if errors.As(err, &ve) {
					for _, issue := range ve.Issues {
						v.add(rpath, "%s", issue)
					}
				} else {
					v.add(rpath, "%v", err)
				}
			}
			for ai, spec := range rule.Actions {
				if _, err := rules.ParseActionType(string(spec.Type)); err != nil {
					continue // already reported
				}
				if _, err := action.Parse(spec); err != nil {
					v.add(fmt.Sprintf("%s.actions[%d]", rpath, ai), "%v", err)
				}
			}
		}
	}
	return v.errs
}

type docValidator struct {
	errs []error
}

func (v *docValidator) add(path, format string, args ...any) {
	v.errs = append(v.errs, &LoadError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *docValidator) named(kind string, list []Named) {
	seen := make(map[int64]bool, len(list))
	for i, n := range list {
		path := fmt.Sprintf("%s[%d]", kind, i)
		if seen[n.ID] {
			v.add(path, "duplicate id %d", n.ID)
		}
		seen[n.ID] = true
		if n.ID <= 0 || n.Owner <= 0 {
			v.add(path, "id and owner must be positive")
		}
		if strings.TrimSpace(n.Name) == "" {
			v.add(path, "name is required")
		}
	}
}

var bookedLayouts = []string{"2006-01-02", time.RFC3339}

func parseBooked(s string) (time.Time, error) {
	for _, layout := range bookedLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid booked date %q", s)
}

// ImportData converts a validated document into store records.
func (d *Document) ImportData() (store.ImportData, error) {
	data := store.ImportData{
		Accounts:   make([]rules.Account, 0, len(d.Accounts)),
		Categories: entities(d.Categories),
		Merchants:  entities(d.Merchants),
		Tags:       entities(d.Tags),
	}
	for _, a := range d.Accounts {
		data.Accounts = append(data.Accounts, rules.Account{ID: a.ID, OwnerID: a.Owner, Name: a.Name})
	}

	for _, t := range d.Transactions {
		txn, err := convertTransaction(t)
		if err != nil {
			return store.ImportData{}, err
		}
		data.Transactions = append(data.Transactions, txn)
	}

	for _, g := range d.RuleGroups {
		group := rules.RuleGroup{
			ID:      g.ID,
			OwnerID: g.Owner,
			Name:    g.Name,
			Order:   g.Order,
			Active:  boolOr(g.Active, true),
		}
		for i, r := range g.Rules {
			rule, err := convertRule(r, i)
			if err != nil {
				return store.ImportData{}, fmt.Errorf("rule group %d: %w", g.ID, err)
			}
			group.Rules = append(group.Rules, rule)
		}
		data.RuleGroups = append(data.RuleGroups, group)
	}
	return data, nil
}

func entities(list []Named) []rules.Entity {
	out := make([]rules.Entity, 0, len(list))
	for _, n := range list {
		out = append(out, rules.Entity{ID: n.ID, OwnerID: n.Owner, Name: n.Name})
	}
	return out
}

func convertTransaction(t Transaction) (rules.Transaction, error) {
	amount, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return rules.Transaction{}, fmt.Errorf("transaction %d: invalid amount %q", t.ID, t.Amount)
	}
	booked, err := parseBooked(t.Booked)
	if err != nil {
		return rules.Transaction{}, fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	typ := rules.TypeExpense
	if t.Type != "" {
		if typ, err = rules.ParseTransactionType(t.Type); err != nil {
			return rules.Transaction{}, fmt.Errorf("transaction %d: %w", t.ID, err)
		}
	}

	txn := rules.Transaction{
		ID:            t.ID,
		AccountID:     t.Account,
		Amount:        amount,
		Description:   t.Description,
		Partner:       t.Partner,
		Type:          typ,
		Note:          t.Note,
		RecipientNote: t.RecipientNote,
		Place:         t.Place,
		TargetIBAN:    t.TargetIBAN,
		SourceIBAN:    t.SourceIBAN,
		BookedDate:    booked,
		Reconciled:    t.Reconciled,
		Tags:          make([]rules.Entity, 0, len(t.Tags)),
	}
	if t.Category != nil {
		txn.Category = &rules.Entity{ID: *t.Category}
	}
	if t.Merchant != nil {
		txn.Merchant = &rules.Entity{ID: *t.Merchant}
	}
	for _, id := range t.Tags {
		txn.Tags = append(txn.Tags, rules.Entity{ID: id})
	}
	return txn, nil
}

// convertRule canonicalizes enum spellings. Values that cannot be parsed are
// kept verbatim so that rules.Validate reports them.
func convertRule(r Rule, index int) (rules.Rule, error) {
	order := r.Order
	if order == 0 {
		order = index + 1
	}
	trigger, err := rules.ParseTriggerType(r.Trigger)
	if err != nil {
		trigger = rules.TriggerType(r.Trigger)
	}

	out := rules.Rule{
		ID:             r.ID,
		Name:           r.Name,
		Trigger:        trigger,
		Order:          order,
		Active:         boolOr(r.Active, true),
		StopProcessing: r.StopProcessing,
	}
	for gi, g := range r.When {
		logic, err := rules.ParseLogicOperator(g.Logic)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %q: condition group %d: %w", r.Name, gi, err)
		}
		cg := rules.ConditionGroup{Logic: logic, Order: gi + 1}
		for ci, c := range g.Conditions {
			cg.Conditions = append(cg.Conditions, rules.Condition{
				Field:         canonical(c.Field, rules.ParseField),
				Operator:      canonical(c.Operator, rules.ParseOperator),
				Value:         c.Value,
				CaseSensitive: c.CaseSensitive,
				Negated:       c.Negated,
				Order:         ci + 1,
			})
		}
		out.ConditionGroups = append(out.ConditionGroups, cg)
	}
	for ai, a := range r.Actions {
		out.Actions = append(out.Actions, rules.ActionSpec{
			Type:           canonical(a.Type, rules.ParseActionType),
			Value:          a.Value,
			Order:          ai + 1,
			StopProcessing: a.StopProcessing,
		})
	}
	return out, nil
}

func canonical[T ~string](s string, parse func(string) (T, error)) T {
	if v, err := parse(s); err == nil {
		return v
	}
	return T(s)
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
