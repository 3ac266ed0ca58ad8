package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yml")
	err := os.WriteFile(file, []byte(`
database:
  dialect: postgres
  batchSize: 50
import:
  encoding: utf-8
  columns:
    amount: Amount
`), 0644)
	require.NoError(t, err)

	c, err := readConfig("EXPENSIOR_TEST_CONFIG_UNSET", file)
	require.NoError(t, err)

	assert.Equal(t, DialectPostgres, c.Database.Dialect)
	assert.Equal(t, 50, c.Database.BatchSize)
	assert.Equal(t, "expensior", c.Database.Name)
	assert.Equal(t, "utf-8", c.Import.Encoding)
	assert.Equal(t, "Amount", c.Import.Columns.Amount)
	assert.Equal(t, "Data waluty", c.Import.Columns.ValueDate)
	assert.Equal(t, "Tytuł:", c.Import.Labels.Title)
	assert.Equal(t, "WARSZAWA", c.Import.CityFixes["PIASTOW"])
	assert.Equal(t, "ignore", c.Import.ConflictPolicy)
	assert.Equal(t, 10, c.Classify.SampleSize)
}

func TestReadConfigFromEnv(t *testing.T) {
	t.Setenv("EXPENSIOR_TEST_CONFIG", "database:\n  path: /tmp/other.db\n")

	c, err := readConfig("EXPENSIOR_TEST_CONFIG", "/does/not/exist.yml")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.db", c.Database.Path)
	assert.Equal(t, DialectSQLite, c.Database.Dialect)
}

func TestReadConfigMissingFileUsesDefaults(t *testing.T) {
	c, err := readConfig("EXPENSIOR_TEST_CONFIG_UNSET", filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, Default().Database, c.Database)
	assert.Equal(t, "@every 1h", c.Classify.Schedule)
}

func TestReadSecretsFromEnv(t *testing.T) {
	t.Setenv("SQL_HOST", "db.local")
	t.Setenv("SQL_USERNAME", "expensior")
	t.Setenv("DATABASE_URL", "postgres://u:p@db.local:5432/expensior")

	s, err := readSecrets(filepath.Join(t.TempDir(), "secrets.ejson"))
	require.NoError(t, err)

	assert.Equal(t, "db.local", s.SQL.SqlHost)
	assert.Equal(t, "expensior", s.SQL.SqlUsername)
	assert.Equal(t, "postgres://u:p@db.local:5432/expensior", s.DatabaseURL)
	assert.Equal(t, s, CurrentSecrets())
}
