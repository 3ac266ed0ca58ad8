package transform

import (
	"time"

	"github.com/shopspring/decimal"
)

// Row is one source row. Implementations look cells up by header name and by label prefix.
type Row interface {
	Value(column string) string
	CellWithPrefix(prefix string) string
}

type IDSource int

const (
	NaturalID IDSource = iota
	SyntheticID
	DuplicateID
)

func (s IDSource) String() string {
	switch s {
	case SyntheticID:
		return "synthetic"
	case DuplicateID:
		return "duplicate"
	default:
		return "natural"
	}
}

// Transaction is a transformed row ready to be loaded as a canonical transaction.
type Transaction struct {
	ID string
	// zero when the source date could not be parsed
	Date        time.Time
	RawDate     string
	Type        string
	Amount      decimal.Decimal
	Currency    string
	Description *string
	Country     *string
	City        *string
	IDSource    IDSource
}

// Summary counts how the final ids of one transform run were produced.
type Summary struct {
	Total        int
	Natural      int
	Synthetic    int
	Duplicate    int
	MissingDates int
}

func (t Transaction) dateKey() string {
	if t.Date.IsZero() {
		return t.RawDate
	}
	return t.Date.Format(isoDate)
}

func valueOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
