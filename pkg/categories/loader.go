package categories

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/uptrace/bun"
	"k8s.io/klog"
)

type LoadResult struct {
	Roots    int
	Children int
}

// LoadCSV reads category,subcategory rows and creates the missing nodes in one transaction.
// Roots are created once; children already present under their root are left alone.
func LoadCSV(ctx context.Context, db *bun.DB, r io.Reader, clearExisting bool) (*LoadResult, error) {
	rows, err := readCategoryRows(r)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{}

	err = db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if clearExisting {
			_, err := tx.NewDelete().Model((*SQLCategory)(nil)).Where("1 = 1").Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear categories: %w", err)
			}
		}

		parents, err := rootCache(ctx, tx)
		if err != nil {
			return err
		}

		for _, row := range rows {
			parentID, ok := parents[row.category]
			if !ok {
				root := &SQLCategory{Name: row.category}
				_, err := tx.NewInsert().Model(root).Exec(ctx)
				if err != nil {
					return fmt.Errorf("failed to create category %s: %w", row.category, err)
				}
				parentID = root.ID
				parents[row.category] = parentID
				result.Roots++
			}

			if row.subcategory == "" {
				continue
			}

			exists, err := tx.NewSelect().
				Model((*SQLCategory)(nil)).
				Where("name = ?", row.subcategory).
				Where("parent_id = ?", parentID).
				Exists(ctx)
			if err != nil {
				return fmt.Errorf("failed to check category %s/%s: %w", row.category, row.subcategory, err)
			}
			if exists {
				continue
			}

			_, err = tx.NewInsert().Model(&SQLCategory{Name: row.subcategory, ParentID: &parentID}).Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create category %s/%s: %w", row.category, row.subcategory, err)
			}
			result.Children++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	klog.Infof("Loaded categories: %d new roots, %d new subcategories", result.Roots, result.Children)
	return result, nil
}

func rootCache(ctx context.Context, db bun.IDB) (map[string]int64, error) {
	roots := []SQLCategory{}
	err := db.NewSelect().Model(&roots).Where("parent_id IS NULL").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load root categories: %w", err)
	}

	cache := make(map[string]int64, len(roots))
	for _, root := range roots {
		if _, ok := cache[root.Name]; !ok {
			cache[root.Name] = root.ID
		}
	}
	return cache, nil
}

type categoryRow struct {
	category    string
	subcategory string
}

func readCategoryRows(r io.Reader) ([]categoryRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read category header: %w", err)
	}

	columns := map[string]int{}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, ok := columns[name]; !ok {
			columns[name] = i
		}
	}
	if _, ok := columns["category"]; !ok {
		return nil, fmt.Errorf("category csv has no category column")
	}

	cell := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	rows := []categoryRow{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read category csv: %w", err)
		}

		row := categoryRow{category: cell(record, "category"), subcategory: cell(record, "subcategory")}
		if row.category == "" {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}
