package sheet

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

const roundTripCSV = "id,name,price,in_stock,zip,note\n" +
	"1,Widget,9.99,true,00501,\n" +
	"2,\"Gadget, large\",1200,false,10001,fragile\n" +
	"3,Gizmo,-0.5,TRUE,02134,\"multi\nline\"\n"

func TestEncode_RoundTrip(t *testing.T) {
	original, err := Parse([]byte(roundTripCSV), FormatCSV, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	for _, format := range Formats {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(original, format)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			back, err := Parse(data, format, ParseOptions{})
			if err != nil {
				t.Fatalf("re-Parse failed: %v", err)
			}

			if diff := cmp.Diff(original.Columns(), back.Columns()); diff != "" {
				t.Errorf("columns mismatch (-want +got):\n%s", diff)
			}
			if !original.Equal(back) {
				t.Errorf("round trip changed values:\nwant %v\ngot  %v",
					original.Window(0, original.NumRows()), back.Window(0, back.NumRows()))
			}
		})
	}
}

func TestEncode_RoundTripPrecision(t *testing.T) {
	original := MustNew([]string{"n", "ok"}, [][]Value{
		{Number(3.141592653589793), Bool(true)},
		{Number(0.30000000000000004), Bool(false)},
		{Number(123456789012345678), Bool(true)},
		{Number(1e-7), Bool(false)},
	})

	for _, format := range Formats {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(original, format)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			back, err := Parse(data, format, ParseOptions{})
			if err != nil {
				t.Fatalf("re-Parse failed: %v", err)
			}
			if !original.Equal(back) {
				t.Errorf("round trip changed values:\nwant %v\ngot  %v",
					original.Window(0, original.NumRows()), back.Window(0, back.NumRows()))
			}
		})
	}
}

func TestParse_XLSXCellTypes(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for ref, v := range map[string]any{
		"A1": "when", "B1": "flag", "C1": "n",
		"A2": time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), "B2": true, "C2": 1,
		"A3": time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), "B3": false, "C3": 0,
	} {
		if err := f.SetCellValue(sheet, ref, v); err != nil {
			t.Fatalf("SetCellValue(%s): %v", ref, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	tbl, err := Parse(buf.Bytes(), FormatXLSX, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if k := tbl.Cell(0, 0).Kind(); k != KindText {
		t.Errorf("date cell kind = %v, want text (got %q)", k, tbl.Cell(0, 0).String())
	}
	if got := tbl.Cell(0, 1); !got.Equal(Bool(true)) {
		t.Errorf("bool cell = %v, want true", got)
	}
	if got := tbl.Cell(1, 1); !got.Equal(Bool(false)) {
		t.Errorf("bool cell = %v, want false", got)
	}
	if got := tbl.Cell(1, 2); !got.Equal(Number(0)) {
		t.Errorf("numeric cell = %v, want 0", got)
	}
}

func TestIsDateFormat(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"yyyy-mm-dd", true},
		{"h:mm AM/PM", true},
		{"0.00", false},
		{"#,##0.00 \"days\"", false},
		{"[$€-407]#,##0.00", false},
	}
	for _, tt := range tests {
		if got := isDateFormat(tt.code); got != tt.want {
			t.Errorf("isDateFormat(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestEncode_Unsupported(t *testing.T) {
	tbl := MustNew([]string{"a"}, nil)
	data, err := Encode(tbl, Format("ods"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Encode error = %v, want ErrUnsupportedFormat", err)
	}
	if data != nil {
		t.Error("Encode returned bytes alongside an error")
	}
}

func TestEncode_CSVNumbers(t *testing.T) {
	tbl := MustNew([]string{"n", "b", "e"}, [][]Value{
		{Number(1), Bool(true), Empty()},
		{Number(2.5), Bool(false), Empty()},
	})

	data, err := Encode(tbl, FormatCSV)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := "n,b,e\n1,true,\n2.5,false,\n"
	if got := string(data); got != want {
		t.Errorf("Encode csv = %q, want %q", got, want)
	}
}

func TestEncode_EmptyTable(t *testing.T) {
	tbl := MustNew([]string{"a", "b"}, nil)
	for _, format := range Formats {
		data, err := Encode(tbl, format)
		if err != nil {
			t.Fatalf("Encode %s failed: %v", format, err)
		}
		back, err := Parse(data, format, ParseOptions{})
		if err != nil {
			t.Fatalf("re-Parse %s failed: %v", format, err)
		}
		if back.NumRows() != 0 || back.NumColumns() != 2 {
			t.Errorf("%s: got %d rows x %d columns, want 0 x 2", format, back.NumRows(), back.NumColumns())
		}
	}
}
