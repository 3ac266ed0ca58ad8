package csvimporter

import (
	"fmt"
	"strings"
)

// CSVRow is one statement row. Cells are read by header name or by scanning for a label prefix,
// never by fixed position.
type CSVRow struct {
	record []string
	// map of header name to index. Header name needs to be lower case to be matched
	headerMap map[string]int
	line      int
}

// Value returns the trimmed cell under the named column, or "" when the column or cell is missing.
func (r *CSVRow) Value(column string) string {
	return r.getKey(column)
}

// CellWithPrefix returns the first cell, in column order, whose text starts with prefix.
func (r *CSVRow) CellWithPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}

	for _, cell := range r.record {
		cell = strings.TrimSpace(cell)
		if strings.HasPrefix(cell, prefix) {
			return cell
		}
	}

	return ""
}

// Line is the 1-based line of the row in the source file, counting the header.
func (r *CSVRow) Line() int {
	return r.line
}

func (r *CSVRow) getKey(column string, defaultValue ...string) string {
	column = strings.ToLower(strings.TrimSpace(column))

	if i, ok := r.headerMap[column]; ok && i < len(r.record) {
		return strings.TrimSpace(r.record[i])
	} else if len(defaultValue) > 0 {
		return defaultValue[0]
	} else {
		return ""
	}
}

// generateHeaderMap creates a header map from the passed in header row.
// Blank header cells are named "unnamed: N" after their zero based index, and the first
// occurrence of a repeated name wins.
func generateHeaderMap(record []string) map[string]int {
	m := make(map[string]int)
	for i, r := range record {
		name := strings.ToLower(strings.TrimSpace(r))
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if name == "" {
			name = fmt.Sprintf("unnamed: %d", i)
		}
		if _, ok := m[name]; ok {
			continue
		}
		m[name] = i
	}
	return m
}
