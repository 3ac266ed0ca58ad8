package csvimporter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/bcaldwell/expensior/pkg/config"
)

// Statement is a parsed statement export: the raw bytes (the batch id is derived from them)
// and its rows.
type Statement struct {
	FileName string
	Content  []byte
	Header   []string
	Rows     []*CSVRow
}

// ReadStatement parses content as an xlsx workbook when the file name says so, otherwise as
// delimited text in the configured encoding.
func ReadStatement(fileName string, content []byte, importConfig config.ImportConfig) (*Statement, error) {
	var records [][]string
	var err error

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx":
		records, err = readXLSXRecords(content)
	default:
		records, err = readCSVRecords(content, importConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fileName, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("failed to parse %s csv header: file is empty", fileName)
	}

	header := records[0]
	headerMap := generateHeaderMap(header)

	rows := make([]*CSVRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, &CSVRow{
			record:    record,
			headerMap: headerMap,
			line:      i + 2,
		})
	}

	return &Statement{
		FileName: filepath.Base(fileName),
		Content:  content,
		Header:   header,
		Rows:     rows,
	}, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSVRecords(content []byte, importConfig config.ImportConfig) ([][]string, error) {
	dec, err := decoder(importConfig.Encoding)
	if err != nil {
		return nil, err
	}

	// a byte order mark means the export is utf-8 whatever the config says
	if bytes.HasPrefix(content, utf8BOM) {
		content = content[len(utf8BOM):]
		dec = nil
	}

	var r io.Reader = bytes.NewReader(content)
	if dec != nil {
		r = dec.Reader(r)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	delimiter := importConfig.Delimiter
	if delimiter == `\t` {
		delimiter = "\t"
	}
	if delimiter != "" {
		d, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) {
			return nil, fmt.Errorf("delimiter must be a single character, got %q", importConfig.Delimiter)
		}
		reader.Comma = d
	}

	records := [][]string{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to parse csv row: %w", err)
		}
		records = append(records, record)
	}

	return records, nil
}

// decoder returns nil for utf-8 input.
func decoder(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin2", "iso-8859-2", "iso8859-2":
		return charmap.ISO8859_2.NewDecoder(), nil
	case "windows-1250", "cp1250":
		return charmap.Windows1250.NewDecoder(), nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported statement encoding %q", name)
	}
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
