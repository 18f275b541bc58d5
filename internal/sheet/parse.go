package sheet

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultMaxRows caps the rows of a parsed table when no limit is set.
const DefaultMaxRows = 1_000_000

// utf8BOM is stripped from the start of delimited uploads; Windows tools
// add it routinely.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseOptions tunes Parse.
type ParseOptions struct {
	// MaxRows is the maximum number of data rows (default DefaultMaxRows).
	MaxRows int
}

// Parse converts uploaded bytes into a Table. Failures are all-or-nothing
// and wrap ErrUnsupportedFormat, ErrParseFailure or ErrRowLimitExceeded.
func Parse(data []byte, format Format, opts ParseOptions) (*Table, error) {
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	var (
		records [][]string
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readDelimited(data, ',', maxRows)
	case FormatTSV:
		records, err = readDelimited(data, '\t', maxRows)
	case FormatXLSX:
		records, err = readXLSX(data, maxRows)
	case FormatJSON:
		return parseJSON(data, maxRows)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return buildTable(records, maxRows)
}

// readDelimited reads CSV or TSV records after BOM stripping and UTF-8
// sanitisation. It stops early once the row cap is clearly exceeded.
func readDelimited(data []byte, comma rune, maxRows int) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ToValidUTF8(data, []byte("�"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	filled := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
		}
		records = append(records, rec)
		if !isBlankRecord(rec) {
			filled++
		}
		// header plus maxRows data rows
		if filled > maxRows+1 {
			return nil, fmt.Errorf("%w: more than %d rows", ErrRowLimitExceeded, maxRows)
		}
	}
	return records, nil
}

// readXLSX reads the first worksheet as raw cell values so numbers keep full
// float64 precision. Boolean cells and date-formatted cells are resolved
// through their cell type and style.
func readXLSX(data []byte, maxRows int) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrParseFailure, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrParseFailure)
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrParseFailure, sheets[0], err)
	}
	defer rows.Close()

	x := &xlsxCells{f: f, sheet: sheets[0], dateStyles: make(map[int]bool)}
	var records [][]string
	filled := 0
	for row := 1; rows.Next(); row++ {
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: read row: %v", ErrParseFailure, err)
		}
		for i, raw := range cols {
			if cols[i], err = x.resolve(raw, i+1, row); err != nil {
				return nil, fmt.Errorf("%w: read row %d: %v", ErrParseFailure, row, err)
			}
		}
		records = append(records, cols)
		if !isBlankRecord(cols) {
			filled++
		}
		if filled > maxRows+1 {
			return nil, fmt.Errorf("%w: more than %d rows", ErrRowLimitExceeded, maxRows)
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return records, nil
}

// xlsxCells resolves raw worksheet values that do not speak for themselves:
// booleans come back as 1/0 and dates as serial numbers.
type xlsxCells struct {
	f          *excelize.File
	sheet      string
	dateStyles map[int]bool
}

func (x *xlsxCells) resolve(raw string, col, row int) (string, error) {
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return raw, nil
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", err
	}
	typ, err := x.f.GetCellType(x.sheet, ref)
	if err != nil {
		return "", err
	}
	if typ == excelize.CellTypeBool {
		if raw == "0" {
			return "FALSE", nil
		}
		return "TRUE", nil
	}
	style, err := x.f.GetCellStyle(x.sheet, ref)
	if err != nil {
		return "", err
	}
	if style != 0 && x.isDateStyle(style) {
		return x.f.GetCellValue(x.sheet, ref)
	}
	return raw, nil
}

func (x *xlsxCells) isDateStyle(idx int) bool {
	if d, ok := x.dateStyles[idx]; ok {
		return d
	}
	d := false
	if st, err := x.f.GetStyle(idx); err == nil {
		switch {
		case st.NumFmt >= 14 && st.NumFmt <= 22, st.NumFmt >= 45 && st.NumFmt <= 47:
			d = true
		case st.CustomNumFmt != nil:
			d = isDateFormat(*st.CustomNumFmt)
		}
	}
	x.dateStyles[idx] = d
	return d
}

// isDateFormat reports whether a custom number format renders a date or
// time. Quoted literals and bracketed sections such as currency locales are
// ignored.
func isDateFormat(code string) bool {
	var b strings.Builder
	quoted, bracket := false, false
	for _, r := range code {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '[':
			bracket = true
		case r == ']':
			bracket = false
		case bracket:
		default:
			b.WriteRune(r)
		}
	}
	return strings.ContainsAny(strings.ToLower(b.String()), "ydhs")
}

// jsonDocument is the shape accepted and produced for the json format.
type jsonDocument struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func parseJSON(data []byte, maxRows int) (*Table, error) {
	var doc jsonDocument
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if len(doc.Columns) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrParseFailure)
	}
	if len(doc.Rows) > maxRows {
		return nil, fmt.Errorf("%w: %d rows exceeds %d", ErrRowLimitExceeded, len(doc.Rows), maxRows)
	}

	known := make(map[string]bool, len(doc.Columns))
	for _, c := range doc.Columns {
		known[c] = true
	}

	rows := make([][]Value, len(doc.Rows))
	for i, rec := range doc.Rows {
		row := make([]Value, len(doc.Columns))
		for name := range rec {
			if !known[name] {
				return nil, fmt.Errorf("%w: row %d has undeclared column %q", ErrParseFailure, i, name)
			}
		}
		for c, name := range doc.Columns {
			v, err := FromInterface(rec[name])
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %q: %v", ErrParseFailure, i, name, err)
			}
			row[c] = v
		}
		rows[i] = row
	}

	t, err := New(doc.Columns, rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return t, nil
}

// buildTable turns raw records into a typed table: the first non-blank
// record is the header, blank records are dropped, and each column is
// coerced to its inferred kind.
func buildTable(records [][]string, maxRows int) (*Table, error) {
	headerAt := -1
	for i, rec := range records {
		if !isBlankRecord(rec) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, fmt.Errorf("%w: empty file", ErrParseFailure)
	}

	header := trimTrailingBlank(records[headerAt])
	columns := normalizeHeader(header)

	var data [][]string
	for i, rec := range records[headerAt+1:] {
		if isBlankRecord(rec) {
			continue
		}
		rec = trimTrailingBlank(rec)
		if len(rec) > len(columns) {
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d",
				ErrParseFailure, headerAt+i+2, len(rec), len(columns))
		}
		data = append(data, rec)
	}
	if len(data) > maxRows {
		return nil, fmt.Errorf("%w: %d rows exceeds %d", ErrRowLimitExceeded, len(data), maxRows)
	}

	kinds := make([]Kind, len(columns))
	cells := make([]string, len(data))
	for c := range columns {
		for r, rec := range data {
			cells[r] = cellAt(rec, c)
		}
		kinds[c] = inferKind(cells)
	}

	rows := make([][]Value, len(data))
	for r, rec := range data {
		row := make([]Value, len(columns))
		for c := range columns {
			row[c] = coerce(cellAt(rec, c), kinds[c])
		}
		rows[r] = row
	}

	return New(columns, rows)
}

// normalizeHeader names blank header cells "Unnamed: N" and de-duplicates
// repeated names with ".1", ".2" suffixes.
func normalizeHeader(header []string) []string {
	columns := make([]string, len(header))
	seen := make(map[string]int, len(header))
	taken := make(map[string]bool, len(header))

	for i, h := range header {
		name := strings.TrimSpace(CleanCell(h))
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		base := name
		for taken[name] {
			seen[base]++
			name = base + "." + strconv.Itoa(seen[base])
		}
		taken[name] = true
		columns[i] = name
	}
	return columns
}

func cellAt(rec []string, i int) string {
	if i < len(rec) {
		return CleanCell(rec[i])
	}
	return ""
}

func isBlankRecord(rec []string) bool {
	for _, v := range rec {
		if !isBlank(v) {
			return false
		}
	}
	return true
}

func trimTrailingBlank(rec []string) []string {
	end := len(rec)
	for end > 0 && isBlank(rec[end-1]) {
		end--
	}
	return rec[:end]
}
