package sheet

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// exportSheetName is the single worksheet written to xlsx exports.
const exportSheetName = "Sheet1"

// Encode serializes t in the given format. It either returns the complete
// encoding or an error, never partial bytes.
func Encode(t *Table, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return encodeDelimited(t, ',')
	case FormatTSV:
		return encodeDelimited(t, '\t')
	case FormatXLSX:
		return encodeXLSX(t)
	case FormatJSON:
		return encodeJSON(t)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func encodeDelimited(t *Table, comma rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = comma

	if err := w.Write(t.columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			record[i] = v.String()
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeXLSX(t *Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(exportSheetName)
	if err != nil {
		return nil, fmt.Errorf("stream writer: %w", err)
	}

	header := make([]any, len(t.columns))
	for i, c := range t.columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	cells := make([]any, len(t.columns))
	for r, row := range t.rows {
		for i, v := range row {
			cells[i] = v.Interface()
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeJSON(t *Table) ([]byte, error) {
	return json.Marshal(jsonDocument{
		Columns: t.columns,
		Rows:    t.Window(0, len(t.rows)),
	})
}
