package transform

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollidingNaturalIDsAreSuffixed(t *testing.T) {
	input := []Row{
		row("2024-01-10", "Płatność kartą", "-10,00", "Tytuł: 5555", "Lokalizacja: Adres: Shop A Miasto: Gdansk Kraj: Polska"),
		row("2024-01-11", "Płatność kartą", "-20,00", "Tytuł: 5555", "Lokalizacja: Adres: Shop B Miasto: Gdansk Kraj: Polska"),
		row("2024-01-12", "Płatność kartą", "-30,00", "Tytuł: 6666"),
	}

	first, summary := transformRows(t, input...)
	second, _ := transformRows(t, input...)

	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.True(t, strings.HasPrefix(first[0].ID, "5555"+DuplicateMarker))
	assert.True(t, strings.HasPrefix(first[1].ID, "5555"+DuplicateMarker))
	assert.Len(t, first[0].ID, len("5555"+DuplicateMarker)+8)
	assert.Equal(t, "6666", first[2].ID)

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}

	assert.Equal(t, Summary{Total: 3, Natural: 1, Duplicate: 2, Synthetic: 0}, summary)
}

func TestDedupSuffixDoesNotDependOnPosition(t *testing.T) {
	a := row("2024-01-10", "Płatność kartą", "-10,00", "Tytuł: 5555")
	b := row("2024-01-11", "Płatność kartą", "-20,00", "Tytuł: 5555")

	forward, _ := transformRows(t, a, b)
	backward, _ := transformRows(t, b, a)

	assert.Equal(t, forward[0].ID, backward[1].ID)
	assert.Equal(t, forward[1].ID, backward[0].ID)
}

func TestResolveIdentitiesSyntheticThenDuplicate(t *testing.T) {
	description := "SAME"
	txns := []Transaction{
		{Type: "card_fee", Amount: decimal.RequireFromString("-7"), Currency: "PLN", RawDate: "2024-01-01", Description: &description},
		{Type: "card_fee", Amount: decimal.RequireFromString("-7"), Currency: "PLN", RawDate: "2024-01-01", Description: &description},
		{ID: "abc", Type: "card_payment", Amount: decimal.RequireFromString("-1"), Currency: "PLN"},
	}

	summary := ResolveIdentities(txns)

	// identical content collapses onto one id, the loader's conflict policy decides the rest
	require.True(t, strings.HasPrefix(txns[0].ID, SyntheticPrefix))
	assert.Contains(t, txns[0].ID, DuplicateMarker)
	assert.Equal(t, txns[0].ID, txns[1].ID)
	assert.Equal(t, DuplicateID, txns[0].IDSource)
	assert.Equal(t, "abc", txns[2].ID)
	assert.Equal(t, Summary{Total: 3, Natural: 1, Duplicate: 2, MissingDates: 3}, summary)
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, ShortHash(12, "a", "b"), ShortHash(12, "a", "b"))
	assert.NotEqual(t, ShortHash(12, "a", "b"), ShortHash(12, "a|b", ""))
	assert.Len(t, ShortHash(4, "x"), 4)
	assert.Len(t, ContentHash([]byte("file")), 12)
}
