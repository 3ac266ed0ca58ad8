package financialimporter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// Dependent removes rows that belong to the transactions of a batch being rolled back. It runs
// inside the rollback transaction before the transactions are deleted.
type Dependent func(ctx context.Context, tx bun.Tx, batch *SQLImportBatch) error

type RollbackResult struct {
	Batch               SQLImportBatch
	TransactionsDeleted int
}

// ListBatches returns every import batch, newest first.
func ListBatches(ctx context.Context, db bun.IDB) ([]SQLImportBatch, error) {
	batches := []SQLImportBatch{}
	err := db.NewSelect().Model(&batches).Order("imported_at DESC", "id DESC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list import batches: %w", err)
	}
	return batches, nil
}

// RollbackBatch deletes a batch and its transactions. An empty batchID picks the most recently
// imported batch.
func RollbackBatch(ctx context.Context, db *bun.DB, batchID string, dependents ...Dependent) (*RollbackResult, error) {
	result := &RollbackResult{}

	err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewSelect().Model(&result.Batch)
		if batchID == "" {
			q = q.Order("imported_at DESC", "id DESC").Limit(1)
		} else {
			q = q.Where("id = ?", batchID)
		}

		err := q.Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBatchNotFound
		} else if err != nil {
			return fmt.Errorf("failed to find import batch: %w", err)
		}

		for _, dependent := range dependents {
			if err := dependent(ctx, tx, &result.Batch); err != nil {
				return err
			}
		}

		res, err := tx.NewDelete().
			Model((*SQLTransaction)(nil)).
			Where("import_batch_id = ?", result.Batch.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete transactions of batch %s: %w", result.Batch.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		result.TransactionsDeleted = int(n)

		_, err = tx.NewDelete().Model((*SQLImportBatch)(nil)).Where("id = ?", result.Batch.ID).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete import batch %s: %w", result.Batch.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
