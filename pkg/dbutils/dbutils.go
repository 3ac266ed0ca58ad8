package dbutils

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"k8s.io/klog"
	_ "modernc.org/sqlite"

	"github.com/bcaldwell/expensior/pkg/config"
)

const connectRetries = 5

// CreateClient opens the database named by the config and waits for it to answer a ping.
func CreateClient(dbConfig config.DatabaseConfig, secrets config.Secrets) (*bun.DB, error) {
	switch dbConfig.Dialect {
	case config.DialectPostgres:
		return createPostgresClient(dbConfig, secrets)
	case config.DialectSQLite, "":
		return OpenSQLite(dbConfig.Path)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dbConfig.Dialect)
	}
}

func createPostgresClient(dbConfig config.DatabaseConfig, secrets config.Secrets) (*bun.DB, error) {
	var pgconn *pgdriver.Connector

	// bypass creating of db if database_url is set because we are likely running in heroku then
	if secrets.DatabaseURL == "" {
		sqlHost := secrets.SQL.SqlHost
		// slightly silly logic to add port if missing
		if !strings.Contains(sqlHost, ":") {
			sqlHost += ":5432"
		}

		err := ensureDBExistsInPostgres(sqlHost, dbConfig.Name, secrets.SQL)
		if err != nil {
			return nil, err
		}

		pgconn = pgdriver.NewConnector(
			pgdriver.WithAddr(sqlHost),
			pgdriver.WithInsecure(true),
			pgdriver.WithUser(secrets.SQL.SqlUsername),
			pgdriver.WithPassword(secrets.SQL.SqlPassword),
			pgdriver.WithDatabase(dbConfig.Name),
		)
	} else {
		// this panics if its invalid
		pgconn = pgdriver.NewConnector(pgdriver.WithDSN(secrets.DatabaseURL))
	}

	db := sql.OpenDB(pgconn)
	err := ping(db)

	return bun.NewDB(db, pgdialect.New()), err
}

// OpenSQLite opens a sqlite database file, or an in-memory database for ":memory:".
// A single connection is used so an in-memory database is shared by every query.
func OpenSQLite(path string) (*bun.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := ping(db); err != nil {
		return nil, err
	}

	return bun.NewDB(db, sqlitedialect.New()), nil
}

// ping only retries reaching the database, never a query.
func ping(db *sql.DB) error {
	err := backoff.Retry(db.Ping, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries))
	if err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	return nil
}

func ensureDBExistsInPostgres(sqlHost, dbname string, sqlSecrets config.SqlSecrets) error {
	pgconn := pgdriver.NewConnector(
		pgdriver.WithAddr(sqlHost),
		pgdriver.WithInsecure(true),
		pgdriver.WithUser(sqlSecrets.SqlUsername),
		pgdriver.WithPassword(sqlSecrets.SqlPassword),
		pgdriver.WithDatabase("postgres"),
	)

	db := sql.OpenDB(pgconn)
	defer db.Close()

	rows, err := db.Query("SELECT datname FROM pg_database where datname = $1", dbname)
	if err != nil {
		return fmt.Errorf("Failed to get list of databases: %s", err)
	}
	defer rows.Close()

	// next meaning there is a row, all we care about is if there is a row
	if !rows.Next() {
		klog.Infof("Creating database %s in postgres database\n", dbname)
		_, err := db.Exec("CREATE DATABASE " + dbname)
		if err != nil {
			return fmt.Errorf("failed to create database %s: %w", dbname, err)
		}
	}

	return nil
}

// CreateTables creates the table for every model that does not exist yet.
func CreateTables(ctx context.Context, db bun.IDB, models ...interface{}) error {
	for _, model := range models {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}
	return nil
}

// Index describes a secondary index created by CreateIndexes.
type Index struct {
	Model   interface{}
	Name    string
	Columns []string
}

func CreateIndexes(ctx context.Context, db bun.IDB, indexes ...Index) error {
	for _, index := range indexes {
		_, err := db.NewCreateIndex().
			Model(index.Model).
			Index(index.Name).
			Column(index.Columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", index.Name, err)
		}
	}
	return nil
}

// TableSetString returns "col = EXCLUDED.col" for every column of the model except exclude,
// for use in an ON CONFLICT DO UPDATE clause.
func TableSetString(db bun.IDB, model interface{}, exclude ...string) string {
	t := db.Dialect().Tables().Get(reflect.TypeOf(model).Elem())
	if t == nil {
		return ""
	}

	parts := []string{}

	for _, f := range t.Fields {
		if isInArray(exclude, f.Name) {
			continue
		}

		parts = append(parts, fmt.Sprintf("%s = EXCLUDED.%s", f.Name, f.Name))
	}

	return strings.Join(parts, ", ")
}

func isInArray(arr []string, s string) bool {
	for _, i := range arr {
		if i == s {
			return true
		}
	}

	return false
}
