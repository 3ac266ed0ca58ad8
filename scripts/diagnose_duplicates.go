package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/uptrace/bun"

	"github.com/bcaldwell/expensior/internal/csvimporter"
	"github.com/bcaldwell/expensior/pkg/config"
	"github.com/bcaldwell/expensior/pkg/dbutils"
	"github.com/bcaldwell/expensior/pkg/financialimporter"
	"github.com/bcaldwell/expensior/pkg/transform"
)

// Prints the ids a statement file would collide on, both inside the file and against stored rows.
var cli struct {
	Config  string `default:"./config.yml" help:"Configuration file."`
	Secrets string `default:"./secrets.json" help:"Secrets file (ejson)."`
	File    string `arg required help:"Statement export (csv or xlsx)."`
}

func main() {
	kctx := kong.Parse(&cli)
	kctx.FatalIfErrorf(run())
}

func run() error {
	err := config.ReadConfig("EXPENSIOR_CONFIG", cli.Config, cli.Secrets)
	if err != nil {
		return err
	}

	batch, err := csvimporter.NewImportCSVRunner(nil, *config.CurrentImportConfig(), 0, nil).Transform(cli.File)
	if err != nil {
		return err
	}

	summary := batch.Summary
	fmt.Printf("%s: %d rows, %d natural ids, %d synthetic ids, %d duplicate ids\n",
		batch.FileName, summary.Total, summary.Natural, summary.Synthetic, summary.Duplicate)

	shared := make(map[string][]transform.Transaction)
	ids := make([]string, 0, len(batch.Transactions))
	for _, t := range batch.Transactions {
		ids = append(ids, t.ID)
		if t.IDSource != transform.DuplicateID {
			continue
		}
		base := t.ID[:strings.Index(t.ID, transform.DuplicateMarker)]
		shared[base] = append(shared[base], t)
	}

	bases := make([]string, 0, len(shared))
	for base := range shared {
		bases = append(bases, base)
	}
	sort.Strings(bases)
	for _, base := range bases {
		fmt.Printf("\n%s is shared by %d rows\n", base, len(shared[base]))
		for _, t := range shared[base] {
			fmt.Printf("  %s  %s  %s %s  %s\n", t.ID, t.RawDate, t.Amount.String(), t.Currency, describe(t))
		}
	}

	if len(ids) == 0 {
		return nil
	}

	db, err := dbutils.CreateClient(*config.CurrentDatabaseConfig(), *config.CurrentSecrets())
	if err != nil {
		return err
	}
	defer db.Close()

	var stored []financialimporter.SQLTransaction
	err = db.NewSelect().
		Model(&stored).
		Column("id", "import_batch_id").
		Where("id IN (?)", bun.In(ids)).
		Order("import_batch_id", "id").
		Scan(context.Background())
	if err != nil {
		return fmt.Errorf("failed to look up stored ids: %w", err)
	}

	fmt.Printf("\n%d of %d ids are already stored\n", len(stored), len(ids))
	for _, t := range stored {
		fmt.Printf("  %s  batch %s\n", t.ID, t.ImportBatchID)
	}
	return nil
}

func describe(t transform.Transaction) string {
	if t.Description == nil {
		return t.Type
	}
	return *t.Description
}
