package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/bcaldwell/expensior/pkg/categories"
	"github.com/bcaldwell/expensior/pkg/dbutils"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := dbutils.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, dbutils.CreateTables(ctx, db, Models()...))
	require.NoError(t, dbutils.CreateTables(ctx, db, categories.Models()...))
	return db
}

func strPtr(s string) *string {
	return &s
}

const rulesCSV = `pattern,match_type,source_column,merchant,category,subcategory,conditions,priority
UBER,contains,description,Uber,Transport,Taxi,,20
^BIEDRONKA,regex,description,Biedronka,Groceries,,"{""amount_sign"": ""negative""}",
,contains,description,Nobody,Other,,,5
ZABKA,contains,,Zabka,Groceries,,,
U,contains,description,,Other,,,10
`

func TestLoadCSV(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	transport, err := categories.Create(ctx, db, "Transport", nil)
	require.NoError(t, err)
	taxi, err := categories.Create(ctx, db, "Taxi", &transport.ID)
	require.NoError(t, err)

	result, err := LoadCSV(ctx, db, strings.NewReader(rulesCSV), false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 2, result.Skipped)

	all, err := List(ctx, db)
	require.NoError(t, err)
	require.Len(t, all, 3)

	uber := all[0]
	assert.Equal(t, "UBER", uber.Pattern)
	assert.Equal(t, 20, uber.Priority)
	require.NotNil(t, uber.CategoryID)
	assert.Equal(t, taxi.ID, *uber.CategoryID)
	assert.Nil(t, uber.Conditions)

	// priority ties keep load order
	biedronka := all[1]
	assert.Equal(t, "^BIEDRONKA", biedronka.Pattern)
	assert.Equal(t, DefaultPriority, biedronka.Priority)
	require.NotNil(t, biedronka.Conditions)
	assert.JSONEq(t, `{"amount_sign": "negative"}`, *biedronka.Conditions)
	assert.Nil(t, biedronka.Subcategory)
	assert.Nil(t, biedronka.CategoryID)
	assert.Equal(t, "U", all[2].Pattern)
	assert.Nil(t, all[2].Merchant)

	result, err = LoadCSV(ctx, db, strings.NewReader(rulesCSV), true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Cleared)
	all, err = List(ctx, db)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLoadCSVRejectsBadPriority(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := LoadCSV(ctx, db, strings.NewReader("pattern,match_type,source_column,priority\nA,contains,description,high\n"), false)
	assert.Error(t, err)

	all, err := List(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	food, err := categories.Create(ctx, db, "Food", nil)
	require.NoError(t, err)

	pizza := NewRule("PIZZA")
	pizza.Category = strPtr("Food")
	rule, err := Create(ctx, db, pizza)
	require.NoError(t, err)
	assert.NotZero(t, rule.ID)
	assert.Equal(t, MatchContains, rule.MatchType)
	assert.Equal(t, ColumnDescription, rule.SourceColumn)
	assert.Equal(t, DefaultPriority, rule.Priority)
	require.NotNil(t, rule.CategoryID)
	assert.Equal(t, food.ID, *rule.CategoryID)

	// an explicit 0 is kept, as the csv loader keeps it
	zero, err := Create(ctx, db, SQLRule{Pattern: "FEE", Priority: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, zero.Priority)
	assert.Equal(t, MatchContains, zero.MatchType)

	stored, err := List(ctx, db)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, DefaultPriority, stored[0].Priority)
	assert.Equal(t, 0, stored[1].Priority)

	missing := int64(999)
	_, err = Create(ctx, db, SQLRule{Pattern: "X", CategoryID: &missing})
	assert.ErrorIs(t, err, ErrCategoryNotFound)

	_, err = Create(ctx, db, SQLRule{Pattern: "X", MatchType: "fuzzy"})
	assert.ErrorIs(t, err, ErrInvalidRule)
	_, err = Create(ctx, db, SQLRule{Pattern: "X", SourceColumn: "amount"})
	assert.ErrorIs(t, err, ErrInvalidRule)
	_, err = Create(ctx, db, SQLRule{Pattern: " "})
	assert.ErrorIs(t, err, ErrInvalidRule)

	require.NoError(t, Delete(ctx, db, rule.ID))
	assert.ErrorIs(t, Delete(ctx, db, rule.ID), ErrRuleNotFound)
}

func TestSourceColumnAliases(t *testing.T) {
	column, ok := SourceColumn(" Type ")
	assert.True(t, ok)
	assert.Equal(t, ColumnTransactionType, column)

	column, ok = SourceColumn("id")
	assert.True(t, ok)
	assert.Equal(t, ColumnTransactionID, column)

	_, ok = SourceColumn("amount")
	assert.False(t, ok)
}
