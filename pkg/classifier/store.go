package classifier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/bcaldwell/expensior/pkg/categories"
	"github.com/bcaldwell/expensior/pkg/dbutils"
	"github.com/bcaldwell/expensior/pkg/financialimporter"
)

var ErrTransactionNotFound = errors.New("transaction not found")

const (
	MethodManual = "manual"
	MethodRule   = "rule"
)

// transaction ids per statement when flipping current records in bulk
const flipChunkSize = 500

// SQLClassification is one version of a transaction's categorization. Records are only ever
// inserted; the single update is clearing is_current when a newer record supersedes it.
type SQLClassification struct {
	bun.BaseModel `bun:"table:transaction_classifications,alias:tc"`
	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	TransactionID string    `bun:"transaction_id,notnull"`
	Category      string    `bun:"category,notnull"`
	Subcategory   *string   `bun:"subcategory"`
	Merchant      *string   `bun:"merchant"`
	CategoryID    *int64    `bun:"category_id"`
	Method        string    `bun:"method,notnull"`
	RuleID        *int64    `bun:"rule_id"`
	IsCurrent     bool      `bun:"is_current,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

func Models() []interface{} {
	return []interface{}{(*SQLClassification)(nil)}
}

func Indexes() []dbutils.Index {
	return []dbutils.Index{
		{Model: (*SQLClassification)(nil), Name: "transaction_classifications_current_idx", Columns: []string{"transaction_id", "is_current"}},
	}
}

// Classification is a new categorization to commit.
type Classification struct {
	TransactionID string
	Category      string
	Subcategory   *string
	Merchant      *string
	CategoryID    *int64
	Method        string
	// set exactly when Method is MethodRule
	RuleID *int64
}

func (c Classification) validate() error {
	if c.TransactionID == "" {
		return fmt.Errorf("classification needs a transaction id")
	}
	if strings.TrimSpace(c.Category) == "" {
		return fmt.Errorf("classification of %s needs a category", c.TransactionID)
	}
	switch c.Method {
	case MethodRule:
		if c.RuleID == nil {
			return fmt.Errorf("rule classification of %s needs a rule id", c.TransactionID)
		}
	case MethodManual:
		if c.RuleID != nil {
			return fmt.Errorf("manual classification of %s cannot carry a rule id", c.TransactionID)
		}
	default:
		return fmt.Errorf("unknown classification method %q", c.Method)
	}
	return nil
}

type Store struct {
	db  *bun.DB
	now func() time.Time
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Commit makes c the current classification of its transaction in one database transaction.
func (s *Store) Commit(ctx context.Context, c Classification) (*SQLClassification, error) {
	var records []SQLClassification
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		records, err = s.commit(ctx, tx, []Classification{c})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}

// commit clears is_current on every existing record of the given transactions then inserts
// the new records as current. It must run inside tx.
func (s *Store) commit(ctx context.Context, tx bun.Tx, classifications []Classification) ([]SQLClassification, error) {
	if len(classifications) == 0 {
		return nil, nil
	}

	ts := s.now().UTC()
	records := make([]SQLClassification, 0, len(classifications))
	ids := make([]string, 0, len(classifications))
	seen := map[string]struct{}{}

	for _, c := range classifications {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[c.TransactionID]; ok {
			return nil, fmt.Errorf("transaction %s classified twice in one commit", c.TransactionID)
		}
		seen[c.TransactionID] = struct{}{}
		ids = append(ids, c.TransactionID)

		records = append(records, SQLClassification{
			ID:            uuid.New(),
			TransactionID: c.TransactionID,
			Category:      c.Category,
			Subcategory:   c.Subcategory,
			Merchant:      c.Merchant,
			CategoryID:    c.CategoryID,
			Method:        c.Method,
			RuleID:        c.RuleID,
			IsCurrent:     true,
			CreatedAt:     ts,
		})
	}

	for start := 0; start < len(ids); start += flipChunkSize {
		end := start + flipChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		_, err := tx.NewUpdate().
			Model((*SQLClassification)(nil)).
			Set("is_current = ?", false).
			Where("transaction_id IN (?)", bun.In(ids[start:end])).
			Where("is_current = ?", true).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to supersede current classifications: %w", err)
		}
	}

	for start := 0; start < len(records); start += flipChunkSize {
		end := start + flipChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		_, err := tx.NewInsert().Model(&chunk).Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to write classifications: %w", err)
		}
	}

	return records, nil
}

// Current returns the current classification of a transaction, nil when it has none.
func (s *Store) Current(ctx context.Context, transactionID string) (*SQLClassification, error) {
	record := SQLClassification{}
	err := s.db.NewSelect().
		Model(&record).
		Where("transaction_id = ?", transactionID).
		Where("is_current = ?", true).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read classification of %s: %w", transactionID, err)
	}
	return &record, nil
}

// History returns every classification of a transaction, newest first.
func (s *Store) History(ctx context.Context, transactionID string) ([]SQLClassification, error) {
	records := []SQLClassification{}
	err := s.db.NewSelect().
		Model(&records).
		Where("transaction_id = ?", transactionID).
		OrderExpr("CASE WHEN is_current = ? THEN 0 ELSE 1 END", true).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read classification history of %s: %w", transactionID, err)
	}
	return records, nil
}

// Unclassified returns the transactions that have no current classification at all.
func (s *Store) Unclassified(ctx context.Context) ([]financialimporter.SQLTransaction, error) {
	return unclassified(ctx, s.db)
}

func unclassified(ctx context.Context, db bun.IDB) ([]financialimporter.SQLTransaction, error) {
	txns := []financialimporter.SQLTransaction{}
	err := db.NewSelect().
		Model(&txns).
		Join("LEFT JOIN transaction_classifications AS tc ON tc.transaction_id = t.id AND tc.is_current = ?", true).
		Where("tc.id IS NULL").
		Order("t.transaction_date DESC", "t.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load unclassified transactions: %w", err)
	}
	return txns, nil
}

// Categorize records a manual classification. The category id is resolved from the names.
func (s *Store) Categorize(ctx context.Context, transactionID, category string, subcategory, merchant *string) (*SQLClassification, error) {
	var record *SQLClassification

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*financialimporter.SQLTransaction)(nil)).
			Where("id = ?", transactionID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to look up transaction %s: %w", transactionID, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
		}

		categoryID, err := categories.Resolve(ctx, tx, category, subcategory)
		if err != nil {
			return err
		}

		records, err := s.commit(ctx, tx, []Classification{{
			TransactionID: transactionID,
			Category:      category,
			Subcategory:   subcategory,
			Merchant:      merchant,
			CategoryID:    categoryID,
			Method:        MethodManual,
		}})
		if err != nil {
			return err
		}
		record = &records[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// DeleteForBatch removes the classification history of a batch's transactions. It is passed to
// financialimporter.RollbackBatch so no record outlives its transaction.
func DeleteForBatch(ctx context.Context, tx bun.Tx, batch *financialimporter.SQLImportBatch) error {
	_, err := tx.NewDelete().
		Model((*SQLClassification)(nil)).
		Where("transaction_id IN (?)", tx.NewSelect().
			Model((*financialimporter.SQLTransaction)(nil)).
			Column("id").
			Where("import_batch_id = ?", batch.ID)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete classifications of batch %s: %w", batch.ID, err)
	}
	return nil
}

var _ financialimporter.Dependent = DeleteForBatch
