package classifier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"k8s.io/klog"

	"github.com/bcaldwell/expensior/pkg/categories"
	"github.com/bcaldwell/expensior/pkg/financialimporter"
	"github.com/bcaldwell/expensior/pkg/rules"
)

const defaultSampleSize = 10

type SampleRow struct {
	TransactionID string
	Description   string
	Category      *string
	Subcategory   *string
	Merchant      *string
	RuleID        int64
}

type RunResult struct {
	DryRun bool
	// transactions without a current classification when the run started
	Found        int
	Classified   int
	Unclassified int
	// classifications written, rules without a category claim rows but write nothing
	Saved        int
	SkippedRules []SkippedRule
	Sample       []SampleRow
}

func (r RunResult) String() string {
	prefix := ""
	if r.DryRun {
		prefix = "[DRY] "
	}
	return fmt.Sprintf("%sfound=%d classified=%d unclassified=%d saved=%d skipped-rules=%d",
		prefix, r.Found, r.Classified, r.Unclassified, r.Saved, len(r.SkippedRules))
}

// Runner classifies the unclassified backlog with the stored rules.
type Runner struct {
	db         *bun.DB
	store      *Store
	sampleSize int
}

func NewRunner(db *bun.DB, sampleSize int) *Runner {
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	return &Runner{db: db, store: NewStore(db), sampleSize: sampleSize}
}

// errDryRun rolls the run's transaction back after a dry run.
var errDryRun = errors.New("dry run")

// Run loads every transaction with no current classification, applies the rules and commits
// the assignments in one database transaction. A dry run writes nothing and returns a sample.
func (r *Runner) Run(ctx context.Context, dryRun bool) (*RunResult, error) {
	result := &RunResult{DryRun: dryRun}

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		txns, err := unclassified(ctx, tx)
		if err != nil {
			return err
		}
		result.Found = len(txns)
		if len(txns) == 0 {
			return nil
		}

		ruleSet, err := rules.List(ctx, tx)
		if err != nil {
			return err
		}

		candidates := make([]Candidate, 0, len(txns))
		descriptions := make(map[string]string, len(txns))
		for _, t := range txns {
			candidates = append(candidates, candidateFromTransaction(t))
			descriptions[t.ID] = t.Description
		}

		engine := ApplyRules(candidates, ruleSet)
		for _, skipped := range engine.Skipped {
			klog.Warningf("Skipping rule %d: %v", skipped.RuleID, skipped.Err)
		}
		for ruleID, n := range engine.Matches {
			klog.V(2).Infof("Rule %d matched %d transactions", ruleID, n)
		}

		result.SkippedRules = engine.Skipped
		result.Classified = len(engine.Assignments)
		result.Unclassified = result.Found - result.Classified

		if dryRun {
			for _, a := range engine.Assignments {
				if len(result.Sample) >= r.sampleSize {
					break
				}
				result.Sample = append(result.Sample, SampleRow{
					TransactionID: a.TransactionID,
					Description:   descriptions[a.TransactionID],
					Category:      a.Category,
					Subcategory:   a.Subcategory,
					Merchant:      a.Merchant,
					RuleID:        a.RuleID,
				})
			}
			return errDryRun
		}

		classifications, err := resolveAssignments(ctx, tx, engine.Assignments)
		if err != nil {
			return err
		}

		records, err := r.store.commit(ctx, tx, classifications)
		if err != nil {
			return err
		}
		result.Saved = len(records)
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}

	klog.Infof("Classification run: %s", result)
	return result, nil
}

// resolveAssignments turns rule assignments into classifications, resolving the category id
// with the same resolver rule loading uses. Assignments without a category are dropped.
func resolveAssignments(ctx context.Context, db bun.IDB, assignments []Assignment) ([]Classification, error) {
	type categoryKey struct{ category, subcategory string }
	resolved := map[categoryKey]*int64{}

	classifications := make([]Classification, 0, len(assignments))
	for _, a := range assignments {
		if a.Category == nil || strings.TrimSpace(*a.Category) == "" {
			continue
		}

		key := categoryKey{category: *a.Category}
		if a.Subcategory != nil {
			key.subcategory = *a.Subcategory
		}

		categoryID, ok := resolved[key]
		if !ok {
			var err error
			categoryID, err = categories.Resolve(ctx, db, *a.Category, a.Subcategory)
			if err != nil {
				return nil, err
			}
			resolved[key] = categoryID
		}

		ruleID := a.RuleID
		classifications = append(classifications, Classification{
			TransactionID: a.TransactionID,
			Category:      *a.Category,
			Subcategory:   a.Subcategory,
			Merchant:      a.Merchant,
			CategoryID:    categoryID,
			Method:        MethodRule,
			RuleID:        &ruleID,
		})
	}

	return classifications, nil
}

func candidateFromTransaction(t financialimporter.SQLTransaction) Candidate {
	return Candidate{
		ID:          t.ID,
		Date:        t.TransactionDate,
		Type:        t.TransactionType,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Description: t.Description,
		Country:     t.Country,
		City:        t.City,
	}
}
