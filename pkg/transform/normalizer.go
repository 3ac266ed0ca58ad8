package transform

import "strings"

const UnknownType = "unknown"

// transactionTypeMap holds the PKO BP labels, including the variants a windows-1250 export
// takes on when it is read as latin2 (cp1250 0x9C decodes to U+009C, 0xB9 to š).
var transactionTypeMap = map[string]string{
	"Płatność kartą":                     "card_payment",
	"Płatno\u009cć kartš":                      "card_payment",
	"Zakup w terminalu - kod mobilny":    "terminal_payment_blik",
	"Autooszczędzanie":                   "auto_savings",
	"Płatność web - kod mobilny":         "web_payment_blik",
	"Płatno\u009cć web - kod mobilny":          "web_payment_blik",
	"Przelew na telefon przychodz. zew.": "transfer_blik",
	"Przelew na telefon przychodz. wew.": "transfer_blik",
	"Przelew na konto":                   "transfer_to_account",
	"Przelew z rachunku":                 "transfer_from_account",
	"Opłata za użytkowanie karty":        "card_fee",
	"Zwrot w terminalu":                  "refund",
	"Zwrot płatności kartą":              "refund",
	"Zwrot płatno\u009cci kartš":               "refund",
	"Zlecenie stałe":                     "standing_order",
	"Wypłata z bankomatu":                "atm_withdrawal",
	"Wypłata w bankomacie - kod mobilny": "atm_withdrawal",
	"Wypłata w bankomacie - czek":        "atm_withdrawal",
	"Obciążenie":                         "pko_charge",
	"Obcišżenie":                         "pko_charge",
	"Uznanie":                            "pko_credit",
	"Naliczenie odsetek":                 "interest_accrued",
}

// NormalizeType maps a vendor label to its canonical code. An empty cell is "unknown" and a
// label missing from the table is returned trimmed, as is.
func NormalizeType(label string) string {
	cleaned := strings.TrimSpace(label)
	if cleaned == "" {
		return UnknownType
	}
	if code, ok := transactionTypeMap[cleaned]; ok {
		return code
	}
	return cleaned
}
