package csvimporter

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readXLSXRecords reads the first sheet of a workbook. Cells come back as their formatted text,
// the same shape a csv export of the sheet would have.
func readXLSXRecords(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	return rows, nil
}
