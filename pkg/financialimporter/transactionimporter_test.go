package financialimporter

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/bcaldwell/expensior/pkg/dbutils"
	"github.com/bcaldwell/expensior/pkg/transform"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := dbutils.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, dbutils.CreateTables(context.Background(), db, Models()...))
	return db
}

func newTestImporter(db *bun.DB, batchSize int, start time.Time) *TransactionImporter {
	importer := NewTransactionImporter(db, batchSize)
	ts := start
	importer.now = func() time.Time {
		ts = ts.Add(time.Minute)
		return ts
	}
	return importer
}

func txn(id, amount, description string) transform.Transaction {
	return transform.Transaction{
		ID:          id,
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		RawDate:     "2024-03-01",
		Type:        "card_payment",
		Amount:      decimal.RequireFromString(amount),
		Currency:    "PLN",
		Description: &description,
	}
}

func testBatch(txns ...transform.Transaction) Batch {
	return Batch{FileName: "statement.csv", Content: []byte("statement"), Transactions: txns}
}

func countRows(t *testing.T, db *bun.DB, model interface{}) int {
	t.Helper()
	n, err := db.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestImportWritesBatchAndTransactions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	importer := newTestImporter(db, 2, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))

	result, err := importer.Import(ctx, testBatch(txn("a", "-10.50", "A"), txn("b", "-3", "B"), txn("c", "100", "C")), ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, transform.ContentHash([]byte("statement"))+"-20240302T100100Z", result.BatchID)

	stored := []SQLTransaction{}
	require.NoError(t, db.NewSelect().Model(&stored).Order("id").Scan(ctx))
	require.Len(t, stored, 3)
	assert.True(t, decimal.RequireFromString("-10.5").Equal(stored[0].Amount))
	assert.Equal(t, result.BatchID, stored[0].ImportBatchID)

	batches, err := ListBatches(ctx, db)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 3, batches[0].RowCount)
	assert.Equal(t, StatusOK, batches[0].Status)
}

func TestReimportUnderIgnoreSkipsExistingRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	importer := newTestImporter(db, 500, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))
	batch := testBatch(txn("a", "-1", "A"), txn("b", "-2", "B"))

	first, err := importer.Import(ctx, batch, ImportOptions{Policy: ConflictIgnore})
	require.NoError(t, err)
	second, err := importer.Import(ctx, batch, ImportOptions{Policy: ConflictIgnore})
	require.NoError(t, err)

	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 0, second.Inserted)
	assert.NotEqual(t, first.BatchID, second.BatchID)
	assert.Equal(t, 2, countRows(t, db, (*SQLTransaction)(nil)))
	assert.Equal(t, 2, countRows(t, db, (*SQLImportBatch)(nil)))
}

func TestReplaceOverwritesExistingRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	importer := newTestImporter(db, 500, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))

	_, err := importer.Import(ctx, testBatch(txn("a", "-1", "old")), ImportOptions{Policy: ConflictReplace})
	require.NoError(t, err)

	second := testBatch(txn("a", "-5", "first"), txn("a", "-6", "last"))
	second.Content = []byte("other statement")
	result, err := importer.Import(ctx, second, ImportOptions{Policy: ConflictReplace})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	stored := SQLTransaction{}
	require.NoError(t, db.NewSelect().Model(&stored).Where("id = ?", "a").Scan(ctx))
	assert.Equal(t, "last", stored.Description)
	assert.True(t, decimal.RequireFromString("-6").Equal(stored.Amount))
	assert.Equal(t, result.BatchID, stored.ImportBatchID)
}

func TestAbortCollisionRollsBackAndMarksBatchFailed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	importer := newTestImporter(db, 1, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))

	_, err := importer.Import(ctx, testBatch(txn("a", "-1", "A")), ImportOptions{Policy: ConflictAbort})
	require.NoError(t, err)

	result, err := importer.Import(ctx, testBatch(txn("b", "-2", "B"), txn("a", "-1", "A")), ImportOptions{Policy: ConflictAbort})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 0, result.Inserted)

	// b from the first chunk goes with the rollback
	assert.Equal(t, 1, countRows(t, db, (*SQLTransaction)(nil)))

	failed := SQLImportBatch{}
	require.NoError(t, db.NewSelect().Model(&failed).Where("id = ?", result.BatchID).Scan(ctx))
	assert.Equal(t, StatusFailed, failed.Status)
}

func TestExistingBatchIDWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	importer := NewTransactionImporter(db, 500)
	fixed := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	importer.now = func() time.Time { return fixed }

	_, err := importer.Import(ctx, testBatch(txn("a", "-1", "A")), ImportOptions{})
	require.NoError(t, err)

	result, err := importer.Import(ctx, testBatch(txn("a", "-1", "A"), txn("z", "-9", "Z")), ImportOptions{})
	assert.ErrorIs(t, err, ErrBatchExists)
	assert.Nil(t, result)
	assert.Equal(t, 1, countRows(t, db, (*SQLTransaction)(nil)))

	batch := SQLImportBatch{}
	require.NoError(t, db.NewSelect().Model(&batch).Scan(ctx))
	assert.Equal(t, StatusOK, batch.Status)
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	importer := NewTransactionImporter(db, 500)

	result, err := importer.Import(ctx, testBatch(txn("a", "-1", "A")), ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 0, result.Inserted)
	assert.Contains(t, result.String(), "[DRY]")
	assert.Equal(t, 0, countRows(t, db, (*SQLTransaction)(nil)))
	assert.Equal(t, 0, countRows(t, db, (*SQLImportBatch)(nil)))
}

func TestInvalidPolicy(t *testing.T) {
	importer := NewTransactionImporter(newTestDB(t), 500)

	_, err := importer.Import(context.Background(), testBatch(), ImportOptions{Policy: "merge"})
	assert.ErrorIs(t, err, ErrInvalidConflictPolicy)

	p, err := ParseConflictPolicy(" Replace ")
	require.NoError(t, err)
	assert.Equal(t, ConflictReplace, p)
}

func TestRollbackBatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	importer := newTestImporter(db, 500, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))

	first, err := importer.Import(ctx, testBatch(txn("a", "-1", "A")), ImportOptions{})
	require.NoError(t, err)
	second, err := importer.Import(ctx, testBatch(txn("b", "-2", "B"), txn("c", "-3", "C")), ImportOptions{})
	require.NoError(t, err)

	called := ""
	hook := func(ctx context.Context, tx bun.Tx, batch *SQLImportBatch) error {
		called = batch.ID
		return nil
	}

	// empty id picks the latest batch
	result, err := RollbackBatch(ctx, db, "", hook)
	require.NoError(t, err)
	assert.Equal(t, second.BatchID, result.Batch.ID)
	assert.Equal(t, 2, result.TransactionsDeleted)
	assert.Equal(t, second.BatchID, called)

	batches, err := ListBatches(ctx, db)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, first.BatchID, batches[0].ID)
	assert.Equal(t, 1, countRows(t, db, (*SQLTransaction)(nil)))

	_, err = RollbackBatch(ctx, db, "missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}
