package transform

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/bcaldwell/expensior/pkg/config"
)

const (
	isoDate = "2006-01-02"

	AutoSavingsDescription = "auto_savings"
)

var dateLayouts = []string{isoDate, "02.01.2006", "02-01-2006", "2006/01/02", "2006.01.02", "02/01/2006"}

// Fields is the part of a transaction an extraction strategy can fill in.
type Fields struct {
	ID          string
	Description *string
	City        *string
	Country     *string
}

// Input is what a strategy sees of one row: the row itself, the row after it (nil for the
// last row) and the fields already parsed from fixed columns.
type Input struct {
	Row     Row
	Next    Row
	Date    string
	Type    string
	Amount  decimal.Decimal
	OpDate  string
	NextAmt string
}

type strategy func(in Input) Fields

// Transformer turns statement rows into transactions for one column layout and label set.
type Transformer struct {
	columns         config.ColumnsConfig
	labels          config.LabelsConfig
	defaultCurrency string
	cityFixes       map[string]string

	titleID       *regexp.Regexp
	referenceID   *regexp.Regexp
	eitherID      *regexp.Regexp
	addressToCity *regexp.Regexp
	cityToCountry *regexp.Regexp
	afterCountry  *regexp.Regexp
	afterAddress  *regexp.Regexp
	titleText     *regexp.Regexp

	strategies map[string]strategy
}

func NewTransformer(importConfig config.ImportConfig) *Transformer {
	l := importConfig.Labels
	q := regexp.QuoteMeta

	t := &Transformer{
		columns:         importConfig.Columns,
		labels:          l,
		defaultCurrency: importConfig.DefaultCurrency,
		cityFixes:       importConfig.CityFixes,

		titleID:       regexp.MustCompile(q(l.Title) + `\s*([\d\s]+)`),
		referenceID:   regexp.MustCompile(q(l.ReferenceNumber) + `\s*([\d\s]+)`),
		eitherID:      regexp.MustCompile(`(?:` + q(l.ReferenceNumber) + `|` + q(l.Title) + `)\s*([\d\s]+)`),
		addressToCity: regexp.MustCompile(q(l.Address) + `\s*(.*?)\s*` + q(l.City)),
		cityToCountry: regexp.MustCompile(q(l.City) + `\s*([\p{L}\d\s]+?)\s*` + q(l.Country)),
		afterCountry:  regexp.MustCompile(q(l.Country) + `\s*(.*)`),
		afterAddress:  regexp.MustCompile(q(l.Address) + `\s*(.*)`),
		titleText:     regexp.MustCompile(q(l.Title) + `\s*(.*?)(?:\s*` + q(l.From) + `|$)`),
	}

	t.strategies = map[string]strategy{
		"card_payment":          t.cardPayment,
		"terminal_payment_blik": t.terminalPayment,
		"web_payment_blik":      t.webPayment,
		"refund":                t.webPayment,
		"transfer_blik":         t.transfer,
		"standing_order":        t.transfer,
		"transfer_to_account":   t.transfer,
		"transfer_from_account": t.transfer,
		"atm_withdrawal":        t.atmWithdrawal,
		"auto_savings":          t.autoSavings,
	}

	return t
}

// Transform converts rows into transactions with final ids. Fields a strategy cannot locate are
// left nil. A row whose amount cannot be parsed fails the whole transform.
func (t *Transformer) Transform(rows []Row) ([]Transaction, Summary, error) {
	txns := make([]Transaction, 0, len(rows))

	for i, row := range rows {
		var next Row
		if i+1 < len(rows) {
			next = rows[i+1]
		}

		txn, err := t.transformRow(row, next)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		txns = append(txns, txn)
	}

	summary := ResolveIdentities(txns)
	return txns, summary, nil
}

func (t *Transformer) transformRow(row, next Row) (Transaction, error) {
	rawAmount := row.Value(t.columns.Amount)
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return Transaction{}, err
	}

	rawDate := row.Value(t.columns.ValueDate)
	currency := row.Value(t.columns.Currency)
	if currency == "" {
		currency = t.defaultCurrency
	}

	txn := Transaction{
		Date:     ParseDate(rawDate),
		RawDate:  rawDate,
		Type:     NormalizeType(row.Value(t.columns.Type)),
		Amount:   amount,
		Currency: currency,
	}

	in := Input{
		Row:    row,
		Next:   next,
		Date:   txn.dateKey(),
		Type:   txn.Type,
		Amount: amount,
		OpDate: row.Value(t.columns.OperationDate),
	}
	if next != nil {
		in.NextAmt = normalizeAmountText(next.Value(t.columns.Amount))
		if nextAmount, err := ParseAmount(next.Value(t.columns.Amount)); err == nil {
			in.NextAmt = nextAmount.String()
		}
	}

	if extract, ok := t.strategies[txn.Type]; ok {
		fields := extract(in)
		txn.ID = fields.ID
		txn.Description = fields.Description
		txn.City = fields.City
		txn.Country = fields.Country
	}

	if txn.City != nil {
		if fixed, ok := t.cityFixes[*txn.City]; ok {
			txn.City = &fixed
		}
	}

	return txn, nil
}

func (t *Transformer) cardPayment(in Input) Fields {
	f := t.locationFields(in.Row)
	f.ID = digits(t.titleID, in.Row.CellWithPrefix(t.labels.Title))
	return f
}

func (t *Transformer) terminalPayment(in Input) Fields {
	f := t.locationFields(in.Row)
	f.ID = digits(t.referenceID, in.Row.CellWithPrefix(t.labels.ReferenceNumber))
	return f
}

func (t *Transformer) webPayment(in Input) Fields {
	location := in.Row.CellWithPrefix(t.labels.Location)
	return Fields{
		ID:          digits(t.referenceID, in.Row.CellWithPrefix(t.labels.ReferenceNumber)),
		Description: upperCapture(t.afterAddress, location),
	}
}

// transfer rows carry no vendor reference, so the id is the counterparty account plus a hash
// of what identifies the movement.
func (t *Transformer) transfer(in Input) Fields {
	description := ""
	if m := t.titleText.FindStringSubmatch(in.Row.CellWithPrefix(t.labels.Title)); m != nil {
		description = strings.ToUpper(strings.TrimSpace(m[1]))
	}

	phrase := strings.ToUpper(t.labels.PhoneTransfer)
	if phrase != "" && description != phrase {
		description = strings.TrimSpace(strings.ReplaceAll(description, phrase, ""))
	}

	account := stripSpaces(in.Row.Value(t.columns.Account))
	id := strings.TrimSpace(account + " " + ShortHash(4, in.Date, in.Amount.String(), description))

	f := Fields{ID: id}
	if description != "" {
		f.Description = &description
	}
	return f
}

func (t *Transformer) atmWithdrawal(in Input) Fields {
	source := in.Row.CellWithPrefix(t.labels.ReferenceNumber)
	if source == "" {
		source = in.Row.CellWithPrefix(t.labels.Title)
	}

	f := t.locationFields(in.Row)
	f.ID = digits(t.eitherID, source)
	return f
}

// autoSavings transfers come in pairs of the same amount, the next row's amount tells them apart.
func (t *Transformer) autoSavings(in Input) Fields {
	description := AutoSavingsDescription
	return Fields{
		ID:          ShortHash(6, in.OpDate, in.Date, in.Type, in.Amount.String(), in.NextAmt),
		Description: &description,
	}
}

func (t *Transformer) locationFields(row Row) Fields {
	location := row.CellWithPrefix(t.labels.Location)
	if location == "" {
		return Fields{}
	}

	return Fields{
		Description: upperCapture(t.addressToCity, location),
		City:        upperCapture(t.cityToCountry, location),
		Country:     upperCapture(t.afterCountry, location),
	}
}

func upperCapture(re *regexp.Regexp, text string) *string {
	if text == "" {
		return nil
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	value := strings.ToUpper(strings.TrimSpace(m[1]))
	if value == "" {
		return nil
	}
	return &value
}

func digits(re *regexp.Regexp, text string) string {
	if text == "" {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return stripSpaces(m[1])
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func normalizeAmountText(raw string) string {
	return strings.ReplaceAll(stripSpaces(raw), ",", ".")
}

// ParseAmount reads amounts like "-1 234,56" or "12.50".
func ParseAmount(raw string) (decimal.Decimal, error) {
	text := normalizeAmountText(raw)
	if text == "" {
		return decimal.Zero, fmt.Errorf("missing amount")
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

// ParseDate returns the zero time when raw matches none of the known layouts.
func ParseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
