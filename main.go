package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/uptrace/bun"
	"k8s.io/klog"

	"github.com/bcaldwell/expensior/internal/influxHelper"
	"github.com/bcaldwell/expensior/pkg/config"
	"github.com/bcaldwell/expensior/pkg/dbutils"
)

const configEnvVar = "EXPENSIOR_CONFIG"

// context holds global options
type context struct {
	Config    string `default:"./config.yml" help:"Configuration file."`
	Secrets   string `default:"./secrets.json" help:"Secrets file (ejson)."`
	Verbosity int    `default:"0" help:"Log verbosity."`
}

var cli struct {
	Ctx context `embed`

	InitDb         initDBCmd         `cmd name:"init-db" help:"Create every table and index that does not exist yet."`
	Import         importCmd         `cmd help:"Import a bank statement export as one batch."`
	Classify       classifyCmd       `cmd help:"Classify every transaction without a current classification."`
	Watch          watchCmd          `cmd help:"Classify the unclassified backlog on a schedule."`
	LoadRules      loadRulesCmd      `cmd name:"load-rules" help:"Load classification rules from a csv file."`
	LoadCategories loadCategoriesCmd `cmd name:"load-categories" help:"Load the category tree from a csv file."`
	Categorize     categorizeCmd     `cmd help:"Set the category of one transaction by hand."`
	History        historyCmd        `cmd help:"Show every classification of a transaction, newest first."`
	RollbackBatch  rollbackBatchCmd  `cmd name:"rollback-batch" help:"Delete an import batch and its transactions."`
	Batches        batchesCmd        `cmd help:"List import batches, newest first."`
}

func main() {
	ctx := kong.Parse(&cli)
	err := ctx.Run(&cli.Ctx)
	ctx.FatalIfErrorf(err)
}

func (c *context) setup() error {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	fs.Set("logtostderr", "true")
	fs.Set("v", strconv.Itoa(c.Verbosity))

	err := config.ReadConfig(configEnvVar, c.Config, c.Secrets)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// connect reads the config and opens the configured database.
func (c *context) connect() (*bun.DB, error) {
	if err := c.setup(); err != nil {
		return nil, err
	}

	dbConfig := *config.CurrentDatabaseConfig()
	db, err := dbutils.CreateClient(dbConfig, *config.CurrentSecrets())
	if err != nil {
		return nil, fmt.Errorf("Error connecting to %s database: %w", dbConfig.Dialect, err)
	}

	klog.V(1).Infof("Connected to %s database %s", dbConfig.Dialect, databaseName(dbConfig))
	return db, nil
}

func (c *context) reporter() *influxHelper.Reporter {
	reporter, err := influxHelper.NewReporter(config.CurrentConfig().Influx, *config.CurrentInfluxSecrets())
	if err != nil {
		klog.Warningf("metrics disabled: %v", err)
		return nil
	}
	return reporter
}

func databaseName(dbConfig config.DatabaseConfig) string {
	if dbConfig.Dialect == config.DialectPostgres {
		return dbConfig.Name
	}
	return dbConfig.Path
}
