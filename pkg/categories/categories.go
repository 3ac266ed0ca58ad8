package categories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
)

var (
	ErrParentNotFound = errors.New("parent category not found")
	ErrParentNotRoot  = errors.New("parent category is not a root category")
	ErrCategoryExists = errors.New("category already exists")
)

// SQLCategory is a node of the two level category tree. Roots have no parent.
type SQLCategory struct {
	bun.BaseModel `bun:"table:categories,alias:c"`
	ID            int64  `bun:"id,pk,autoincrement"`
	Name          string `bun:"name,notnull,unique:categories_name_parent"`
	ParentID      *int64 `bun:"parent_id,unique:categories_name_parent"`
}

func (c SQLCategory) IsRoot() bool {
	return c.ParentID == nil
}

func Models() []interface{} {
	return []interface{}{(*SQLCategory)(nil)}
}

// Resolve maps a category name and an optional subcategory name to a node id. The child under
// a root named category wins; otherwise the root itself. Names match exactly, surrounding whitespace included. A nil id with a
// nil error means unresolved.
func Resolve(ctx context.Context, db bun.IDB, category string, subcategory *string) (*int64, error) {
	if category == "" {
		return nil, nil
	}

	if subcategory != nil && *subcategory != "" {
		id, err := scanID(ctx, db.NewSelect().
			Model((*SQLCategory)(nil)).
			ColumnExpr("c.id").
			Join("JOIN categories AS p ON p.id = c.parent_id").
			Where("c.name = ?", *subcategory).
			Where("p.name = ?", category).
			Where("p.parent_id IS NULL").
			OrderExpr("c.id").
			Limit(1))
		if err != nil || id != nil {
			return id, err
		}
	}

	return scanID(ctx, db.NewSelect().
		Model((*SQLCategory)(nil)).
		ColumnExpr("c.id").
		Where("c.name = ?", category).
		Where("c.parent_id IS NULL").
		OrderExpr("c.id").
		Limit(1))
}

func scanID(ctx context.Context, q *bun.SelectQuery) (*int64, error) {
	var id int64
	err := q.Scan(ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve category: %w", err)
	}
	return &id, nil
}

// Create adds a root category, or a child when parentID is set. The parent must exist and
// must itself be a root.
func Create(ctx context.Context, db bun.IDB, name string, parentID *int64) (*SQLCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("category name is required")
	}

	if parentID != nil {
		parent := SQLCategory{}
		err := db.NewSelect().Model(&parent).Where("id = ?", *parentID).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrParentNotFound, *parentID)
		} else if err != nil {
			return nil, fmt.Errorf("failed to look up parent category: %w", err)
		}
		if !parent.IsRoot() {
			return nil, fmt.Errorf("%w: %s", ErrParentNotRoot, parent.Name)
		}
	}

	q := db.NewSelect().Model((*SQLCategory)(nil)).Where("name = ?", name)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check category %s: %w", name, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrCategoryExists, name)
	}

	category := &SQLCategory{Name: name, ParentID: parentID}
	_, err = db.NewInsert().Model(category).Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create category %s: %w", name, err)
	}

	return category, nil
}

// List returns every category, roots first.
func List(ctx context.Context, db bun.IDB) ([]SQLCategory, error) {
	categories := []SQLCategory{}
	err := db.NewSelect().
		Model(&categories).
		OrderExpr("CASE WHEN c.parent_id IS NULL THEN 0 ELSE 1 END").
		OrderExpr("c.parent_id").
		Order("name").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}
