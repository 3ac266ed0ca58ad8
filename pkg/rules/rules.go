package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/bcaldwell/expensior/pkg/categories"
)

var (
	ErrCategoryNotFound = errors.New("category not found")
	ErrInvalidRule      = errors.New("invalid rule")
	ErrRuleNotFound     = errors.New("rule not found")
)

const DefaultPriority = 10

const (
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// Source columns a rule pattern can be matched against.
const (
	ColumnDescription     = "description"
	ColumnCity            = "city"
	ColumnCountry         = "country"
	ColumnTransactionType = "transaction_type"
	ColumnCurrency        = "currency"
	ColumnTransactionID   = "transaction_id"
)

var sourceColumns = map[string]string{
	ColumnDescription:     ColumnDescription,
	ColumnCity:            ColumnCity,
	ColumnCountry:         ColumnCountry,
	ColumnTransactionType: ColumnTransactionType,
	"type":                ColumnTransactionType,
	ColumnCurrency:        ColumnCurrency,
	ColumnTransactionID:   ColumnTransactionID,
	"id":                  ColumnTransactionID,
}

// SourceColumn returns the canonical column for a rule's source_column, accepting the short
// aliases type and id.
func SourceColumn(name string) (string, bool) {
	column, ok := sourceColumns[strings.ToLower(strings.TrimSpace(name))]
	return column, ok
}

type SQLRule struct {
	bun.BaseModel `bun:"table:rules,alias:r"`
	ID            int64   `bun:"id,pk,autoincrement"`
	Pattern       string  `bun:"pattern,notnull"`
	MatchType     string  `bun:"match_type,notnull"`
	SourceColumn  string  `bun:"source_column,notnull"`
	Merchant      *string `bun:"merchant"`
	Category      *string `bun:"category"`
	Subcategory   *string `bun:"subcategory"`
	CategoryID    *int64  `bun:"category_id"`
	// json condition spec, parsed when the rule is applied
	Conditions *string `bun:"conditions"`
	Priority   int     `bun:"priority,notnull"`
}

func Models() []interface{} {
	return []interface{}{(*SQLRule)(nil)}
}

// Validate checks the fields a rule cannot be applied without.
func (r SQLRule) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("%w: pattern is required", ErrInvalidRule)
	}
	if r.MatchType != MatchContains && r.MatchType != MatchRegex {
		return fmt.Errorf("%w: match_type must be %s or %s, got %q", ErrInvalidRule, MatchContains, MatchRegex, r.MatchType)
	}
	if _, ok := SourceColumn(r.SourceColumn); !ok {
		return fmt.Errorf("%w: unknown source_column %q", ErrInvalidRule, r.SourceColumn)
	}
	return nil
}

// NewRule returns a contains rule on the description column at the default priority.
func NewRule(pattern string) SQLRule {
	return SQLRule{
		Pattern:      pattern,
		MatchType:    MatchContains,
		SourceColumn: ColumnDescription,
		Priority:     DefaultPriority,
	}
}

// Create validates and stores one rule. An empty match type or source column takes the NewRule
// value; the priority is stored as given, 0 included. An explicit category id must exist;
// otherwise the id is resolved from the category names.
func Create(ctx context.Context, db bun.IDB, rule SQLRule) (*SQLRule, error) {
	rule.ID = 0
	if rule.MatchType == "" {
		rule.MatchType = MatchContains
	}
	if rule.SourceColumn == "" {
		rule.SourceColumn = ColumnDescription
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if rule.CategoryID != nil {
		exists, err := db.NewSelect().Model((*categories.SQLCategory)(nil)).Where("id = ?", *rule.CategoryID).Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to look up category %d: %w", *rule.CategoryID, err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %d", ErrCategoryNotFound, *rule.CategoryID)
		}
	} else if rule.Category != nil {
		id, err := categories.Resolve(ctx, db, *rule.Category, rule.Subcategory)
		if err != nil {
			return nil, err
		}
		rule.CategoryID = id
	}

	_, err := db.NewInsert().Model(&rule).Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	return &rule, nil
}

// List returns every rule in evaluation order: highest priority first, oldest first within a
// priority.
func List(ctx context.Context, db bun.IDB) ([]SQLRule, error) {
	rules := []SQLRule{}
	err := db.NewSelect().Model(&rules).Order("priority DESC", "id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func Delete(ctx context.Context, db bun.IDB, id int64) error {
	res, err := db.NewDelete().Model((*SQLRule)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	return nil
}
