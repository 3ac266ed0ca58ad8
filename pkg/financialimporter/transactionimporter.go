package financialimporter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"k8s.io/klog"

	"github.com/bcaldwell/expensior/pkg/dbutils"
	"github.com/bcaldwell/expensior/pkg/transform"
)

const (
	defaultBatchSize = 500
	batchTimeLayout  = "20060102T150405Z"
)

// MakeBatchID is the content hash of the file plus the UTC import time to the second.
func MakeBatchID(content []byte, ts time.Time) string {
	return transform.ContentHash(content) + "-" + ts.UTC().Format(batchTimeLayout)
}

func NewTransactionImporter(db *bun.DB, batchSize int) *TransactionImporter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &TransactionImporter{
		db:        db,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// TransactionImporter loads one transformed file as a single import batch.
type TransactionImporter struct {
	db        *bun.DB
	batchSize int
	now       func() time.Time
}

// Import writes the batch row and every transaction in one database transaction. A batch id
// that already exists aborts before anything is written. Any other failure rolls the
// transaction back and then records the batch as failed in a separate write.
func (importer *TransactionImporter) Import(ctx context.Context, batch Batch, opts ImportOptions) (*ImportResult, error) {
	policy, err := ParseConflictPolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}

	ts := importer.now()
	batchID := MakeBatchID(batch.Content, ts)
	result := &ImportResult{
		BatchID:   batchID,
		FileName:  batch.FileName,
		Status:    StatusOK,
		DryRun:    opts.DryRun,
		Attempted: len(batch.Transactions),
		IDs:       batch.Summary,
	}

	if opts.DryRun {
		return result, nil
	}

	sqlBatch := &SQLImportBatch{
		ID:             batchID,
		SourceFileName: batch.FileName,
		RowCount:       len(batch.Transactions),
		Status:         StatusOK,
		ImportedAt:     ts.UTC(),
	}

	sqlRecords := make([]SQLTransaction, 0, len(batch.Transactions))
	for _, t := range batch.Transactions {
		sqlRecords = append(sqlRecords, newSQLTransaction(t, batchID))
	}
	if policy == ConflictReplace {
		sqlRecords = lastByID(sqlRecords)
	}

	err = importer.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*SQLImportBatch)(nil)).Where("id = ?", batchID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check import batch %s: %w", batchID, err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrBatchExists, batchID)
		}

		_, err = tx.NewInsert().Model(sqlBatch).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to write import batch %s: %w", batchID, err)
		}

		result.Inserted, err = importer.insertTransactions(ctx, tx, sqlRecords, policy)
		return err
	})

	if errors.Is(err, ErrBatchExists) {
		return nil, err
	}
	if err != nil {
		result.Status = StatusFailed
		result.Inserted = 0
		importer.markFailed(ctx, sqlBatch)
		return result, err
	}

	klog.Infof("Imported batch %s from %s: %d of %d rows written (policy %s)", batchID, batch.FileName, result.Inserted, result.Attempted, policy)

	return result, nil
}

func (importer *TransactionImporter) insertTransactions(ctx context.Context, tx bun.Tx, sqlRecords []SQLTransaction, policy ConflictPolicy) (int, error) {
	written := 0

	for start := 0; start < len(sqlRecords); start += importer.batchSize {
		end := start + importer.batchSize
		if end > len(sqlRecords) {
			end = len(sqlRecords)
		}
		chunk := sqlRecords[start:end]

		q := tx.NewInsert().Model(&chunk)
		switch policy {
		case ConflictIgnore:
			q = q.On("CONFLICT (id) DO NOTHING")
		case ConflictReplace:
			q = q.On("CONFLICT (id) DO UPDATE").
				Set(dbutils.TableSetString(tx, (*SQLTransaction)(nil), "id"))
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("error writing to sql: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		written += int(n)
	}

	return written, nil
}

// markFailed runs after the rollback, which took the batch row with it, so it upserts.
func (importer *TransactionImporter) markFailed(ctx context.Context, sqlBatch *SQLImportBatch) {
	failed := *sqlBatch
	failed.Status = StatusFailed

	_, err := importer.db.NewInsert().
		Model(&failed).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Exec(ctx)
	if err != nil {
		klog.Errorf("failed to mark import batch %s as failed: %v", sqlBatch.ID, err)
	}
}

// lastByID keeps the last row for every id, in first-seen order. A single upsert statement
// cannot touch the same row twice.
func lastByID(sqlRecords []SQLTransaction) []SQLTransaction {
	index := make(map[string]int, len(sqlRecords))
	out := make([]SQLTransaction, 0, len(sqlRecords))

	for _, r := range sqlRecords {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}

	return out
}
