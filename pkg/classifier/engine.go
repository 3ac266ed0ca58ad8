package classifier

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bcaldwell/expensior/pkg/rules"
)

var ErrInvalidPattern = errors.New("invalid rule pattern")

// Assignment is the outcome of the rule that claimed a transaction.
type Assignment struct {
	TransactionID string
	RuleID        int64
	Merchant      *string
	Category      *string
	Subcategory   *string
}

type SkippedRule struct {
	RuleID int64
	Err    error
}

// EngineResult lists assignments in candidate order.
type EngineResult struct {
	Assignments []Assignment
	Skipped     []SkippedRule
	// matched rows per rule id, after the unassigned restriction
	Matches map[int64]int
}

type compiledRule struct {
	rule       rules.SQLRule
	column     string
	matches    func(value string) bool
	conditions *Conditions
}

// compileRule turns a stored rule into a matcher. Any error means the rule is skipped.
func compileRule(rule rules.SQLRule) (*compiledRule, error) {
	column, ok := rules.SourceColumn(rule.SourceColumn)
	if !ok {
		return nil, fmt.Errorf("%w: unknown source_column %q", rules.ErrInvalidRule, rule.SourceColumn)
	}

	compiled := &compiledRule{rule: rule, column: column}

	switch rule.MatchType {
	case rules.MatchContains:
		pattern := strings.ToLower(rule.Pattern)
		compiled.matches = func(value string) bool {
			return strings.Contains(strings.ToLower(value), pattern)
		}
	case rules.MatchRegex:
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		compiled.matches = re.MatchString
	default:
		return nil, fmt.Errorf("%w: unknown match_type %q", rules.ErrInvalidRule, rule.MatchType)
	}

	if rule.Conditions != nil {
		conditions, err := ParseConditions(*rule.Conditions)
		if err != nil {
			return nil, err
		}
		compiled.conditions = conditions
	}

	return compiled, nil
}

// value returns the candidate's source column, false when the column is null.
func (c *Candidate) value(column string) (string, bool) {
	switch column {
	case rules.ColumnDescription:
		return c.Description, true
	case rules.ColumnTransactionType:
		return c.Type, true
	case rules.ColumnCurrency:
		return c.Currency, true
	case rules.ColumnTransactionID:
		return c.ID, true
	case rules.ColumnCity:
		if c.City == nil {
			return "", false
		}
		return *c.City, true
	case rules.ColumnCountry:
		if c.Country == nil {
			return "", false
		}
		return *c.Country, true
	}
	return "", false
}

// ApplyRules runs the rule set over the candidates. Rules are evaluated by priority, highest
// first, ties in the order given. The first rule to match a candidate claims it; later rules
// never see it again.
func ApplyRules(candidates []Candidate, ruleSet []rules.SQLRule) EngineResult {
	ordered := make([]rules.SQLRule, len(ruleSet))
	copy(ordered, ruleSet)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	result := EngineResult{Matches: map[int64]int{}}
	assigned := make([]*Assignment, len(candidates))
	mask := make([]bool, len(candidates))

	for _, rule := range ordered {
		compiled, err := compileRule(rule)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedRule{RuleID: rule.ID, Err: err})
			continue
		}

		for i := range candidates {
			v, ok := candidates[i].value(compiled.column)
			mask[i] = ok && compiled.matches(v)
		}

		compiled.conditions.Narrow(mask, candidates)

		for i := range candidates {
			if !mask[i] || assigned[i] != nil {
				continue
			}
			assigned[i] = &Assignment{
				TransactionID: candidates[i].ID,
				RuleID:        rule.ID,
				Merchant:      rule.Merchant,
				Category:      rule.Category,
				Subcategory:   rule.Subcategory,
			}
			result.Matches[rule.ID]++
		}
	}

	for _, a := range assigned {
		if a != nil {
			result.Assignments = append(result.Assignments, *a)
		}
	}

	return result
}
