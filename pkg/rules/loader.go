package rules

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/uptrace/bun"
	"k8s.io/klog"

	"github.com/bcaldwell/expensior/pkg/categories"
)

type LoadResult struct {
	Inserted int
	Skipped  int
	Cleared  int
}

// LoadCSV inserts every rule row of a
// pattern,match_type,source_column,merchant,category,subcategory,conditions,priority file in one
// transaction. Rows without pattern, match_type or source_column are skipped. Rules are stored
// as written; a rule the engine cannot use is skipped when it is applied.
func LoadCSV(ctx context.Context, db *bun.DB, r io.Reader, clearExisting bool) (*LoadResult, error) {
	rows, skipped, err := readRuleRows(r)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{Skipped: skipped}

	err = db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if clearExisting {
			res, err := tx.NewDelete().Model((*SQLRule)(nil)).Where("1 = 1").Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear rules: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			result.Cleared = int(n)
		}

		for i := range rows {
			if rows[i].Category != nil {
				id, err := categories.Resolve(ctx, tx, *rows[i].Category, rows[i].Subcategory)
				if err != nil {
					return err
				}
				rows[i].CategoryID = id
			}
		}

		if len(rows) == 0 {
			return nil
		}

		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert rules: %w", err)
		}
		result.Inserted = len(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}

	klog.Infof("Loaded %d rules (%d rows skipped, %d cleared)", result.Inserted, result.Skipped, result.Cleared)
	return result, nil
}

func readRuleRows(r io.Reader) ([]SQLRule, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	} else if err != nil {
		return nil, 0, fmt.Errorf("failed to read rule header: %w", err)
	}

	columns := map[string]int{}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, ok := columns[name]; !ok {
			columns[name] = i
		}
	}

	cell := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	optional := func(record []string, name string) *string {
		v := cell(record, name)
		if v == "" {
			return nil
		}
		return &v
	}

	rows := []SQLRule{}
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, 0, fmt.Errorf("failed to read rule csv: %w", err)
		}

		rule := SQLRule{
			Pattern:      cell(record, "pattern"),
			MatchType:    cell(record, "match_type"),
			SourceColumn: cell(record, "source_column"),
			Merchant:     optional(record, "merchant"),
			Category:     optional(record, "category"),
			Subcategory:  optional(record, "subcategory"),
			Conditions:   optional(record, "conditions"),
			Priority:     DefaultPriority,
		}
		if rule.Pattern == "" || rule.MatchType == "" || rule.SourceColumn == "" {
			skipped++
			continue
		}

		if p := cell(record, "priority"); p != "" {
			rule.Priority, err = strconv.Atoi(p)
			if err != nil {
				line, _ := reader.FieldPos(0)
				return nil, 0, fmt.Errorf("line %d: invalid priority %q: %w", line, p, err)
			}
		}

		rows = append(rows, rule)
	}

	return rows, skipped, nil
}
