package main

import (
	gocontext "context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron"
	"github.com/uptrace/bun"
	"k8s.io/klog"

	"github.com/bcaldwell/expensior/internal/csvimporter"
	"github.com/bcaldwell/expensior/pkg/categories"
	"github.com/bcaldwell/expensior/pkg/classifier"
	"github.com/bcaldwell/expensior/pkg/config"
	"github.com/bcaldwell/expensior/pkg/dbutils"
	"github.com/bcaldwell/expensior/pkg/financialimporter"
	"github.com/bcaldwell/expensior/pkg/rules"
)

func models() []interface{} {
	all := financialimporter.Models()
	all = append(all, categories.Models()...)
	all = append(all, rules.Models()...)
	all = append(all, classifier.Models()...)
	return all
}

func indexes() []dbutils.Index {
	return append(financialimporter.Indexes(), classifier.Indexes()...)
}

func initSchema(ctx gocontext.Context, db *bun.DB) error {
	err := dbutils.CreateTables(ctx, db, models()...)
	if err != nil {
		return err
	}
	return dbutils.CreateIndexes(ctx, db, indexes()...)
}

type initDBCmd struct{}

func (cmd *initDBCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	err = initSchema(gocontext.Background(), db)
	if err != nil {
		return err
	}

	fmt.Println("Database tables are ready")
	return nil
}

type importCmd struct {
	File   string `arg required help:"Statement export (csv or xlsx)."`
	Policy string `help:"Conflict policy for ids already stored: ignore, replace or abort. Defaults to import.conflictPolicy."`
	DryRun bool   `help:"Transform and report counts without writing."`
}

func (cmd *importCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	reporter := c.reporter()
	defer reporter.Close()

	ctx := gocontext.Background()
	if err := initSchema(ctx, db); err != nil {
		return err
	}

	runner := csvimporter.NewImportCSVRunner(db, *config.CurrentImportConfig(), config.CurrentDatabaseConfig().BatchSize, reporter)
	result, err := runner.Run(ctx, cmd.File, financialimporter.ImportOptions{
		Policy: financialimporter.ConflictPolicy(cmd.Policy),
		DryRun: cmd.DryRun,
	})
	if result != nil {
		fmt.Println(result)
	}
	return err
}

type classifyCmd struct {
	DryRun bool `help:"Show a sample of what would be classified without writing."`
}

func (cmd *classifyCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	reporter := c.reporter()
	defer reporter.Close()

	result, err := classify(db, cmd.DryRun)
	if err != nil {
		return err
	}

	if err := reporter.ReportClassification(result); err != nil {
		klog.Warningf("failed to report classification run: %v", err)
	}

	fmt.Println(result)
	for _, row := range result.Sample {
		fmt.Printf("  %s  %-40s -> %s / %s (merchant %s, rule %d)\n",
			row.TransactionID, row.Description, orDash(row.Category), orDash(row.Subcategory), orDash(row.Merchant), row.RuleID)
	}
	return nil
}

func classify(db *bun.DB, dryRun bool) (*classifier.RunResult, error) {
	return classifier.NewRunner(db, config.CurrentClassifyConfig().SampleSize).Run(gocontext.Background(), dryRun)
}

type watchCmd struct {
	Schedule string `help:"Cron spec. Defaults to classify.schedule."`
}

func (cmd *watchCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	reporter := c.reporter()
	defer reporter.Close()

	schedule := cmd.Schedule
	if schedule == "" {
		schedule = config.CurrentClassifyConfig().Schedule
	}

	run := func() {
		fmt.Println(time.Now().Format(time.RFC850))
		result, err := classify(db, false)
		if err != nil {
			klog.Errorf("classification run failed: %v", err)
			return
		}
		if err := reporter.ReportClassification(result); err != nil {
			klog.Warningf("failed to report classification run: %v", err)
		}
	}

	run()

	cr := cron.New()
	err = cr.AddFunc(schedule, run)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	cr.Start()

	select {}
}

type loadRulesCmd struct {
	File          string `arg required help:"Rules csv: pattern,match_type,source_column,merchant,category,subcategory,conditions,priority."`
	ClearExisting bool   `help:"Delete every stored rule first."`
}

func (cmd *loadRulesCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Open(cmd.File)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cmd.File, err)
	}
	defer f.Close()

	result, err := rules.LoadCSV(gocontext.Background(), db, f, cmd.ClearExisting)
	if err != nil {
		return err
	}

	fmt.Printf("Loaded %d rules from %s (%d rows skipped)\n", result.Inserted, cmd.File, result.Skipped)
	return nil
}

type loadCategoriesCmd struct {
	File          string `arg required help:"Categories csv: category,subcategory."`
	ClearExisting bool   `help:"Delete every stored category first."`
}

func (cmd *loadCategoriesCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Open(cmd.File)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cmd.File, err)
	}
	defer f.Close()

	result, err := categories.LoadCSV(gocontext.Background(), db, f, cmd.ClearExisting)
	if err != nil {
		return err
	}

	fmt.Printf("Loaded categories from %s: %d new categories, %d new subcategories\n", cmd.File, result.Roots, result.Children)
	return nil
}

type categorizeCmd struct {
	TransactionID string `arg required help:"Transaction id."`
	Category      string `arg required help:"Category name."`
	Subcategory   string `help:"Subcategory name."`
	Merchant      string `help:"Merchant name."`
}

func (cmd *categorizeCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	category := strings.TrimSpace(cmd.Category)
	record, err := classifier.NewStore(db).Categorize(gocontext.Background(), cmd.TransactionID, category, optional(cmd.Subcategory), optional(cmd.Merchant))
	if errors.Is(err, classifier.ErrTransactionNotFound) {
		return fmt.Errorf("no transaction with id %s", cmd.TransactionID)
	} else if err != nil {
		return err
	}

	if record.CategoryID == nil {
		klog.Warningf("category %s was not found in the category tree", category)
	}
	fmt.Printf("%s is now %s / %s\n", record.TransactionID, record.Category, orDash(record.Subcategory))
	return nil
}

type historyCmd struct {
	TransactionID string `arg required help:"Transaction id."`
}

func (cmd *historyCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	history, err := classifier.NewStore(db).History(gocontext.Background(), cmd.TransactionID)
	if err != nil {
		return err
	}

	if len(history) == 0 {
		fmt.Printf("%s has never been classified\n", cmd.TransactionID)
		return nil
	}

	for _, record := range history {
		marker := " "
		if record.IsCurrent {
			marker = "*"
		}
		rule := ""
		if record.RuleID != nil {
			rule = fmt.Sprintf(" rule %d", *record.RuleID)
		}
		fmt.Printf("%s %s %-6s %s / %s (merchant %s)%s\n",
			marker, record.CreatedAt.Format(time.RFC3339), record.Method, record.Category, orDash(record.Subcategory), orDash(record.Merchant), rule)
	}
	return nil
}

type rollbackBatchCmd struct {
	BatchID string `arg optional help:"Batch to delete. Defaults to the most recently imported batch."`
}

func (cmd *rollbackBatchCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := financialimporter.RollbackBatch(gocontext.Background(), db, cmd.BatchID, classifier.DeleteForBatch)
	if errors.Is(err, financialimporter.ErrBatchNotFound) {
		if cmd.BatchID == "" {
			return fmt.Errorf("there are no import batches")
		}
		return fmt.Errorf("no import batch %s", cmd.BatchID)
	} else if err != nil {
		return err
	}

	fmt.Printf("Rolled back batch %s (%s): %d transactions deleted\n", result.Batch.ID, result.Batch.SourceFileName, result.TransactionsDeleted)
	return nil
}

type batchesCmd struct{}

func (cmd *batchesCmd) Run(c *context) error {
	db, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	batches, err := financialimporter.ListBatches(gocontext.Background(), db)
	if err != nil {
		return err
	}

	for _, b := range batches {
		fmt.Printf("%s  %s  %-6s %5d rows  %s\n", b.ID, b.ImportedAt.Format(time.RFC3339), b.Status, b.RowCount, b.SourceFileName)
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
