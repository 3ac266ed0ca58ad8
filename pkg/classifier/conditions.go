package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidConditions = errors.New("invalid condition spec")

// Candidate is the view of a transaction the rule engine matches against.
type Candidate struct {
	ID          string
	Date        time.Time
	Type        string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Country     *string
	City        *string
}

// predicate is one parsed condition key.
type predicate interface {
	match(c *Candidate) bool
}

type minAmount struct{ value decimal.Decimal }

func (p minAmount) match(c *Candidate) bool { return c.Amount.GreaterThanOrEqual(p.value) }

type maxAmount struct{ value decimal.Decimal }

func (p maxAmount) match(c *Candidate) bool { return c.Amount.LessThanOrEqual(p.value) }

type amountRange struct{ lo, hi decimal.Decimal }

func (p amountRange) match(c *Candidate) bool {
	return c.Amount.GreaterThanOrEqual(p.lo) && c.Amount.LessThanOrEqual(p.hi)
}

type amountSign struct{ negative bool }

func (p amountSign) match(c *Candidate) bool {
	if p.negative {
		return c.Amount.IsNegative()
	}
	return c.Amount.IsPositive()
}

// undated transactions never satisfy a date bound
type effectiveFrom struct{ date time.Time }

func (p effectiveFrom) match(c *Candidate) bool { return !c.Date.IsZero() && !c.Date.Before(p.date) }

type effectiveTo struct{ date time.Time }

func (p effectiveTo) match(c *Candidate) bool { return !c.Date.IsZero() && !c.Date.After(p.date) }

type inSet struct {
	field  func(c *Candidate) *string
	values map[string]struct{}
}

func (p inSet) match(c *Candidate) bool {
	v := p.field(c)
	if v == nil {
		return false
	}
	_, ok := p.values[*v]
	return ok
}

type notContains struct{ values []string }

func (p notContains) match(c *Candidate) bool {
	description := strings.ToLower(c.Description)
	for _, v := range p.values {
		if strings.Contains(description, v) {
			return false
		}
	}
	return true
}

type containsAny struct{ values []string }

func (p containsAny) match(c *Candidate) bool {
	description := strings.ToLower(c.Description)
	for _, v := range p.values {
		if strings.Contains(description, v) {
			return true
		}
	}
	return false
}

type containsAll struct{ values []string }

func (p containsAll) match(c *Candidate) bool {
	description := strings.ToLower(c.Description)
	for _, v := range p.values {
		if !strings.Contains(description, v) {
			return false
		}
	}
	return true
}

// Conditions is a parsed condition spec. Every predicate must hold. The zero value matches
// everything.
type Conditions struct {
	predicates []predicate
}

var setFields = map[string]func(c *Candidate) *string{
	"transaction_type": func(c *Candidate) *string { return &c.Type },
	"currency":         func(c *Candidate) *string { return &c.Currency },
	"country":          func(c *Candidate) *string { return c.Country },
	"city":             func(c *Candidate) *string { return c.City },
}

var conditionDateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "02.01.2006"}

// ParseConditions parses a json condition spec. Empty input and json null give no conditions.
// Keys that are not recognized are ignored.
func ParseConditions(raw string) (*Conditions, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return &Conditions{}, nil
	}

	spec := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConditions, err)
	}

	conditions := &Conditions{}
	add := func(p predicate) { conditions.predicates = append(conditions.predicates, p) }

	// fixed order so evaluation does not depend on map iteration
	for _, key := range []string{
		"min_amount", "max_amount", "amount_range", "amount_sign",
		"effective_from", "effective_to",
		"transaction_type", "country", "city", "currency",
		"not_contains", "must_contain_any", "must_contain_all",
	} {
		value, ok := spec[key]
		if !ok || isNull(value) {
			continue
		}

		switch key {
		case "min_amount", "max_amount":
			d := decimal.Decimal{}
			if err := d.UnmarshalJSON(value); err != nil {
				return nil, keyError(key, err)
			}
			if key == "min_amount" {
				add(minAmount{d})
			} else {
				add(maxAmount{d})
			}

		case "amount_range":
			bounds := []decimal.Decimal{}
			if err := json.Unmarshal(value, &bounds); err != nil {
				return nil, keyError(key, err)
			}
			if len(bounds) != 2 {
				return nil, keyError(key, fmt.Errorf("want [lo, hi], got %d values", len(bounds)))
			}
			add(amountRange{lo: bounds[0], hi: bounds[1]})

		case "amount_sign":
			sign := ""
			if err := json.Unmarshal(value, &sign); err != nil {
				return nil, keyError(key, err)
			}
			switch strings.ToLower(sign) {
			case "negative":
				add(amountSign{negative: true})
			case "positive":
				add(amountSign{negative: false})
			}

		case "effective_from", "effective_to":
			date, err := parseConditionDate(value)
			if err != nil {
				return nil, keyError(key, err)
			}
			if key == "effective_from" {
				add(effectiveFrom{date})
			} else {
				add(effectiveTo{date})
			}

		case "transaction_type", "country", "city", "currency":
			values, err := stringList(value)
			if err != nil {
				return nil, keyError(key, err)
			}
			set := make(map[string]struct{}, len(values))
			for _, v := range values {
				set[v] = struct{}{}
			}
			add(inSet{field: setFields[key], values: set})

		case "not_contains", "must_contain_any", "must_contain_all":
			values, err := stringList(value)
			if err != nil {
				return nil, keyError(key, err)
			}
			for i := range values {
				values[i] = strings.ToLower(values[i])
			}
			switch key {
			case "not_contains":
				add(notContains{values})
			case "must_contain_any":
				add(containsAny{values})
			default:
				add(containsAll{values})
			}
		}
	}

	return conditions, nil
}

// Match reports whether every predicate holds for the candidate.
func (c *Conditions) Match(candidate *Candidate) bool {
	if c == nil {
		return true
	}
	for _, p := range c.predicates {
		if !p.match(candidate) {
			return false
		}
	}
	return true
}

// Narrow clears mask entries whose candidate fails the conditions.
func (c *Conditions) Narrow(mask []bool, candidates []Candidate) {
	if c == nil || len(c.predicates) == 0 {
		return
	}
	for i := range candidates {
		if mask[i] && !c.Match(&candidates[i]) {
			mask[i] = false
		}
	}
}

func (c *Conditions) Len() int {
	if c == nil {
		return 0
	}
	return len(c.predicates)
}

func keyError(key string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidConditions, key, err)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// stringList accepts a list of strings or a single string.
func stringList(raw json.RawMessage) ([]string, error) {
	values := []string{}
	if err := json.Unmarshal(raw, &values); err == nil {
		return values, nil
	}

	single := ""
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("want a list of strings")
	}
	return []string{single}, nil
}

func parseConditionDate(raw json.RawMessage) (time.Time, error) {
	s := ""
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	for _, layout := range conditionDateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
