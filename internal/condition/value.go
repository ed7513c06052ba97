package condition

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/rules"
)

// Kind is the dynamic type of a field value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindTime
	KindList
)

// Value is the current value of one transaction field.
type Value struct {
	Kind Kind
	Str  string
	Num  decimal.Decimal
	Time time.Time
	List []string
}

// Null is the value of an absent association.
func Null() Value { return Value{Kind: KindNull} }

// String wraps a string field.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number wraps a numeric field.
func Number(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }

// Time wraps a date field. The zero time is treated as absent.
func Time(t time.Time) Value {
	if t.IsZero() {
		return Null()
	}
	return Value{Kind: KindTime, Time: t}
}

// List wraps a list-valued field such as tags.
func List(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Kind: KindList, List: items}
}

// String renders the value the way substring and pattern operators see it.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return FormatAmount(v.Num)
	case KindTime:
		if isMidnight(v.Time) {
			return v.Time.Format(dateLayout)
		}
		return v.Time.Format(time.RFC3339)
	case KindList:
		return strings.Join(v.List, ", ")
	default:
		return ""
	}
}

// IsEmpty reports null, an empty list or a blank string.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindList:
		return len(v.List) == 0
	case KindString:
		return strings.TrimSpace(v.Str) == ""
	default:
		return false
	}
}

// FormatAmount renders money with at least two decimals.
func FormatAmount(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

// FieldValue extracts field f from txn. It has no side effects.
func FieldValue(txn *rules.Transaction, f rules.Field) Value {
	if txn == nil {
		return Null()
	}
	switch f {
	case rules.FieldAmount:
		return Number(txn.Amount)
	case rules.FieldDescription:
		return String(txn.Description)
	case rules.FieldPartner:
		return String(txn.Partner)
	case rules.FieldCategory:
		if txn.Category == nil {
			return Null()
		}
		return String(txn.Category.Name)
	case rules.FieldMerchant:
		if txn.Merchant == nil {
			return Null()
		}
		return String(txn.Merchant.Name)
	case rules.FieldAccount:
		return String(txn.AccountName)
	case rules.FieldType:
		return String(string(txn.Type))
	case rules.FieldNote:
		return String(txn.Note)
	case rules.FieldRecipientNote:
		return String(txn.RecipientNote)
	case rules.FieldPlace:
		return String(txn.Place)
	case rules.FieldTargetIBAN:
		return String(txn.TargetIBAN)
	case rules.FieldSourceIBAN:
		return String(txn.SourceIBAN)
	case rules.FieldBookedDate:
		return Time(txn.BookedDate)
	case rules.FieldTags:
		return List(txn.TagNames())
	default:
		return Null()
	}
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}
