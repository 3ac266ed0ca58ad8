package csvimporter

import (
	"context"
	"fmt"
	"os"

	"github.com/uptrace/bun"
	"k8s.io/klog"

	"github.com/bcaldwell/expensior/internal/influxHelper"
	"github.com/bcaldwell/expensior/pkg/config"
	"github.com/bcaldwell/expensior/pkg/financialimporter"
	"github.com/bcaldwell/expensior/pkg/transform"
)

// ImportCSVRunner imports one statement file: read, transform, load as a batch, report.
type ImportCSVRunner struct {
	importConfig config.ImportConfig
	transformer  *transform.Transformer
	importer     *financialimporter.TransactionImporter
	reporter     *influxHelper.Reporter
}

func NewImportCSVRunner(db *bun.DB, importConfig config.ImportConfig, batchSize int, reporter *influxHelper.Reporter) *ImportCSVRunner {
	return &ImportCSVRunner{
		importConfig: importConfig,
		transformer:  transform.NewTransformer(importConfig),
		importer:     financialimporter.NewTransactionImporter(db, batchSize),
		reporter:     reporter,
	}
}

// Run imports csvFile. An empty policy falls back to the configured conflict policy.
func (i *ImportCSVRunner) Run(ctx context.Context, csvFile string, opts financialimporter.ImportOptions) (*financialimporter.ImportResult, error) {
	if opts.Policy == "" {
		opts.Policy = financialimporter.ConflictPolicy(i.importConfig.ConflictPolicy)
	}

	batch, err := i.Transform(csvFile)
	if err != nil {
		return nil, err
	}

	result, err := i.importer.Import(ctx, *batch, opts)
	if result != nil {
		if reportErr := i.reporter.ReportImport(result); reportErr != nil {
			klog.Warningf("failed to report import of %s: %v", csvFile, reportErr)
		}
	}
	if err != nil {
		return result, fmt.Errorf("failed to import %s: %w", csvFile, err)
	}

	klog.Infof("%s", result)
	return result, nil
}

// Transform reads and transforms csvFile without touching the database.
func (i *ImportCSVRunner) Transform(csvFile string) (*financialimporter.Batch, error) {
	content, err := os.ReadFile(csvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s csv file %w", csvFile, err)
	}

	statement, err := ReadStatement(csvFile, content, i.importConfig)
	if err != nil {
		return nil, err
	}

	rows := make([]transform.Row, 0, len(statement.Rows))
	for _, row := range statement.Rows {
		rows = append(rows, row)
	}

	txns, summary, err := i.transformer.Transform(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to transform %s: %w", csvFile, err)
	}
	if summary.MissingDates > 0 {
		klog.Warningf("%s: %d rows have no parseable date", csvFile, summary.MissingDates)
	}

	return &financialimporter.Batch{
		FileName:     statement.FileName,
		Content:      statement.Content,
		Transactions: txns,
		Summary:      summary,
	}, nil
}
