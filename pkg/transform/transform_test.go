package transform

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcaldwell/expensior/pkg/config"
)

type testRow struct {
	values map[string]string
	cells  []string
}

func (r testRow) Value(column string) string {
	return strings.TrimSpace(r.values[column])
}

func (r testRow) CellWithPrefix(prefix string) string {
	for _, c := range r.cells {
		if strings.HasPrefix(c, prefix) {
			return c
		}
	}
	return ""
}

func row(date, kind, amount string, cells ...string) testRow {
	return testRow{
		values: map[string]string{
			"Data operacji":  date,
			"Data waluty":    date,
			"Typ transakcji": kind,
			"Kwota":          amount,
			"Waluta":         "PLN",
		},
		cells: cells,
	}
}

func withAccount(r testRow, account string) testRow {
	r.values["Unnamed: 6"] = account
	return r
}

func newTestTransformer() *Transformer {
	return NewTransformer(config.Default().Import)
}

func transformRows(t *testing.T, rows ...Row) ([]Transaction, Summary) {
	txns, summary, err := newTestTransformer().Transform(rows)
	require.NoError(t, err)
	return txns, summary
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, "card_payment", NormalizeType("Płatność kartą"))
	assert.Equal(t, "card_payment", NormalizeType("  Płatno\u009cć kartš "))
	assert.Equal(t, "web_payment_blik", NormalizeType("Płatno\u009cć web - kod mobilny"))
	assert.Equal(t, "refund", NormalizeType("Zwrot płatno\u009cci kartš"))
	// the misread label without its control character is not a known label
	assert.Equal(t, "Płatnoć kartš", NormalizeType("Płatnoć kartš"))
	assert.Equal(t, "atm_withdrawal", NormalizeType("Wypłata w bankomacie - kod mobilny"))
	assert.Equal(t, "Przelew podatkowy", NormalizeType(" Przelew podatkowy "))
	assert.Equal(t, UnknownType, NormalizeType(""))
	assert.Equal(t, UnknownType, NormalizeType("   "))
}

func TestCardPaymentExtraction(t *testing.T) {
	txns, summary := transformRows(t,
		row("2024-01-15", "Płatność kartą", "-23,99",
			"Tytuł: 000498849 74230170561",
			"Lokalizacja: Adres: Zabka Z1234 Miasto: Piastow Kraj: Polska",
		),
	)

	require.Len(t, txns, 1)
	txn := txns[0]
	assert.Equal(t, "00049884974230170561", txn.ID)
	assert.Equal(t, "card_payment", txn.Type)
	assert.True(t, decimal.RequireFromString("-23.99").Equal(txn.Amount))
	assert.Equal(t, "2024-01-15", txn.Date.Format("2006-01-02"))
	require.NotNil(t, txn.Description)
	assert.Equal(t, "ZABKA Z1234", *txn.Description)
	require.NotNil(t, txn.City)
	assert.Equal(t, "WARSZAWA", *txn.City)
	require.NotNil(t, txn.Country)
	assert.Equal(t, "POLSKA", *txn.Country)
	assert.Equal(t, NaturalID, txn.IDSource)
	assert.Equal(t, Summary{Total: 1, Natural: 1}, summary)
}

func TestTerminalPaymentUsesReferenceNumber(t *testing.T) {
	txns, _ := transformRows(t,
		row("2024-01-15", "Zakup w terminalu - kod mobilny", "-10,00",
			"Tytuł: 999",
			"Numer referencyjny: 12 34 56",
			"Lokalizacja: Adres: Biedronka Miasto: Krakow Kraj: Polska",
		),
	)

	assert.Equal(t, "123456", txns[0].ID)
	assert.Equal(t, "BIEDRONKA", *txns[0].Description)
	assert.Equal(t, "KRAKOW", *txns[0].City)
}

func TestWebPaymentAndRefund(t *testing.T) {
	txns, _ := transformRows(t,
		row("2024-01-15", "Płatność web - kod mobilny", "-99,00",
			"Numer referencyjny: 777 888",
			"Lokalizacja: Adres: allegro.pl",
		),
		row("2024-01-16", "Zwrot w terminalu", "15,00",
			"Numer referencyjny: 555",
			"Lokalizacja: Adres: Rossmann 12 Miasto: Lodz Kraj: Polska",
		),
	)

	assert.Equal(t, "777888", txns[0].ID)
	assert.Equal(t, "ALLEGRO.PL", *txns[0].Description)
	assert.Nil(t, txns[0].City)

	assert.Equal(t, "refund", txns[1].Type)
	assert.Equal(t, "555", txns[1].ID)
	// no upper bound for the address on refunds
	assert.Equal(t, "ROSSMANN 12 MIASTO: LODZ KRAJ: POLSKA", *txns[1].Description)
	assert.Nil(t, txns[1].Country)
}

func TestTransferDescriptionAndID(t *testing.T) {
	txns, _ := transformRows(t,
		withAccount(row("2024-02-01", "Przelew na telefon przychodz. zew.", "50,00",
			"Tytuł: PRZELEW NA TELEFON zwrot za obiad OD: JAN KOWALSKI",
		), "12 3456 7890"),
		withAccount(row("2024-02-02", "Przelew na telefon przychodz. wew.", "20,00",
			"Tytuł: Przelew na telefon OD: ANNA",
		), "11 1111"),
		withAccount(row("2024-02-03", "Zlecenie stałe", "-1500,00",
			"Tytuł: Czynsz luty",
		), ""),
	)

	assert.Equal(t, "ZWROT ZA OBIAD", *txns[0].Description)
	expected := "1234567890 " + ShortHash(4, "2024-02-01", decimal.RequireFromString("50.00").String(), "ZWROT ZA OBIAD")
	assert.Equal(t, expected, txns[0].ID)

	assert.Equal(t, "PRZELEW NA TELEFON", *txns[1].Description)
	assert.True(t, strings.HasPrefix(txns[1].ID, "111111 "))

	assert.Equal(t, "standing_order", txns[2].Type)
	assert.Equal(t, "CZYNSZ LUTY", *txns[2].Description)
	assert.Len(t, txns[2].ID, 4)
}

func TestATMWithdrawalFallsBackToTitle(t *testing.T) {
	txns, _ := transformRows(t,
		row("2024-03-01", "Wypłata z bankomatu", "-200,00",
			"Tytuł: 4455 66",
			"Lokalizacja: Adres: Euronet Miasto: Stare Babice Kraj: Polska",
		),
		row("2024-03-02", "Wypłata w bankomacie - kod mobilny", "-100,00",
			"Tytuł: 1",
			"Numer referencyjny: 889900",
		),
	)

	assert.Equal(t, "445566", txns[0].ID)
	assert.Equal(t, "EURONET", *txns[0].Description)
	assert.Equal(t, "WARSZAWA", *txns[0].City)

	assert.Equal(t, "889900", txns[1].ID)
	assert.Nil(t, txns[1].Description)
}

func TestAutoSavingsPairsGetDistinctIDs(t *testing.T) {
	txns, summary := transformRows(t,
		row("2024-04-01", "Autooszczędzanie", "-5,00"),
		row("2024-04-01", "Autooszczędzanie", "-5,00"),
		row("2024-04-01", "Płatność kartą", "-12,00", "Tytuł: 123"),
	)

	assert.Len(t, txns[0].ID, 6)
	assert.Len(t, txns[1].ID, 6)
	assert.NotEqual(t, txns[0].ID, txns[1].ID)
	assert.Equal(t, AutoSavingsDescription, *txns[0].Description)
	assert.Equal(t, 3, summary.Natural)
}

func TestUnmappedTypeGetsSyntheticID(t *testing.T) {
	first, summary := transformRows(t, row("2024-05-01", "Przelew podatkowy", "-300,00", "Tytuł: PIT"))
	second, _ := transformRows(t, row("2024-05-01", "Przelew podatkowy", "-300,00", "Tytuł: PIT"))

	assert.Equal(t, "Przelew podatkowy", first[0].Type)
	assert.True(t, strings.HasPrefix(first[0].ID, SyntheticPrefix))
	assert.Len(t, first[0].ID, len(SyntheticPrefix)+12)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, SyntheticID, first[0].IDSource)
	assert.Equal(t, 1, summary.Synthetic)
	assert.Nil(t, first[0].Description)
}

func TestMissingLabelsLeaveFieldsUnset(t *testing.T) {
	txns, _ := transformRows(t, row("2024-05-02", "Płatność kartą", "-1,00"))

	assert.Nil(t, txns[0].Description)
	assert.Nil(t, txns[0].City)
	assert.Nil(t, txns[0].Country)
	assert.True(t, strings.HasPrefix(txns[0].ID, SyntheticPrefix))
}

func TestInvalidAmountFailsTransform(t *testing.T) {
	_, _, err := newTestTransformer().Transform([]Row{
		row("2024-05-02", "Płatność kartą", "-1,00"),
		row("2024-05-02", "Płatność kartą", "abc"),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}

func TestUnparseableDateIsCounted(t *testing.T) {
	txns, summary := transformRows(t, row("yesterday", "Płatność kartą", "-1,00", "Tytuł: 42"))

	assert.True(t, txns[0].Date.IsZero())
	assert.Equal(t, "yesterday", txns[0].RawDate)
	assert.Equal(t, 1, summary.MissingDates)
}

func TestParseDateLayouts(t *testing.T) {
	assert.Equal(t, "2024-01-31", ParseDate("2024-01-31").Format("2006-01-02"))
	assert.Equal(t, "2024-01-31", ParseDate("31.01.2024").Format("2006-01-02"))
	assert.True(t, ParseDate("").IsZero())
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("-1 234,56")
	require.NoError(t, err)
	assert.Equal(t, "-1234.56", amount.String())

	_, err = ParseAmount("")
	assert.Error(t, err)
}
