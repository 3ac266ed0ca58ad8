package transform

const (
	SyntheticPrefix = "synthetic-"
	DuplicateMarker = "-dup-"
)

// ResolveIdentities gives every transaction its final id in two passes. Rows without an id get a
// synthetic id hashed from their content. Then every id shared by more than one row is suffixed
// with a hash that also covers the original id, so distinct rows separate while a re-import of
// the same file reproduces the same ids.
func ResolveIdentities(txns []Transaction) Summary {
	for i := range txns {
		if txns[i].ID != "" {
			continue
		}
		txns[i].ID = SyntheticPrefix + ShortHash(12, txns[i].contentKey()...)
		txns[i].IDSource = SyntheticID
	}

	counts := make(map[string]int, len(txns))
	for _, t := range txns {
		counts[t.ID]++
	}

	for i := range txns {
		if counts[txns[i].ID] < 2 {
			continue
		}
		key := append(txns[i].contentKey(), txns[i].ID)
		txns[i].ID = txns[i].ID + DuplicateMarker + ShortHash(8, key...)
		txns[i].IDSource = DuplicateID
	}

	summary := Summary{Total: len(txns)}
	for _, t := range txns {
		switch t.IDSource {
		case SyntheticID:
			summary.Synthetic++
		case DuplicateID:
			summary.Duplicate++
		default:
			summary.Natural++
		}
		if t.Date.IsZero() {
			summary.MissingDates++
		}
	}

	return summary
}

func (t Transaction) contentKey() []string {
	return []string{
		t.dateKey(),
		t.Type,
		t.Amount.String(),
		t.Currency,
		valueOrEmpty(t.Description),
		valueOrEmpty(t.Country),
		valueOrEmpty(t.City),
	}
}
