package financialimporter

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/bcaldwell/expensior/pkg/dbutils"
	"github.com/bcaldwell/expensior/pkg/transform"
)

// SQLTransaction is a canonical transaction. Rows are written once by the importer and only
// ever removed again by a batch rollback.
type SQLTransaction struct {
	bun.BaseModel   `bun:"table:transactions,alias:t"`
	ID              string          `bun:"id,pk"`
	TransactionDate time.Time       `bun:"transaction_date,type:date,nullzero"`
	TransactionType string          `bun:"transaction_type,notnull"`
	Amount          decimal.Decimal `bun:"amount,type:numeric,notnull"`
	Currency        string          `bun:"currency,notnull"`
	Description     string          `bun:"description,notnull"`
	Country         *string         `bun:"country"`
	City            *string         `bun:"city"`
	ImportBatchID   string          `bun:"import_batch_id,notnull"`
}

type SQLImportBatch struct {
	bun.BaseModel  `bun:"table:import_batches,alias:b"`
	ID             string    `bun:"id,pk"`
	SourceFileName string    `bun:"source_file_name,notnull"`
	RowCount       int       `bun:"row_count,notnull"`
	Status         string    `bun:"status,notnull"`
	ImportedAt     time.Time `bun:"imported_at,notnull"`
}

// Models lists the tables owned by the importer.
func Models() []interface{} {
	return []interface{}{(*SQLImportBatch)(nil), (*SQLTransaction)(nil)}
}

func Indexes() []dbutils.Index {
	return []dbutils.Index{
		{Model: (*SQLTransaction)(nil), Name: "transactions_import_batch_id_idx", Columns: []string{"import_batch_id"}},
		{Model: (*SQLImportBatch)(nil), Name: "import_batches_imported_at_idx", Columns: []string{"imported_at"}},
	}
}

func newSQLTransaction(t transform.Transaction, batchID string) SQLTransaction {
	txnType := t.Type
	if txnType == "" {
		txnType = transform.UnknownType
	}

	description := ""
	if t.Description != nil {
		description = *t.Description
	}

	return SQLTransaction{
		ID:              t.ID,
		TransactionDate: t.Date,
		TransactionType: txnType,
		Amount:          t.Amount,
		Currency:        t.Currency,
		Description:     description,
		Country:         t.Country,
		City:            t.City,
		ImportBatchID:   batchID,
	}
}
