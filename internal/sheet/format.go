package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for file types that cannot be
	// parsed or exported.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrParseFailure is returned when bytes of a supported format are
	// malformed. No partial table is ever returned alongside it.
	ErrParseFailure = errors.New("parse failure")

	// ErrRowLimitExceeded is returned when a table exceeds the row cap.
	ErrRowLimitExceeded = errors.New("row limit exceeded")
)

// Format names a tabular file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// Formats lists every supported format in a stable order.
var Formats = []Format{FormatCSV, FormatTSV, FormatXLSX, FormatJSON}

// zipMagic is the local file header every xlsx archive starts with.
var zipMagic = []byte("PK\x03\x04")

// ParseFormat validates a format name such as "csv" or ".XLSX".
func ParseFormat(name string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "."))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// DetectFormat resolves the format of an upload. A declared format wins;
// otherwise the file extension decides, and a zip signature is taken as
// xlsx when the name carries no extension.
func DetectFormat(fileName, declared string, data []byte) (Format, error) {
	if strings.TrimSpace(declared) != "" {
		return ParseFormat(declared)
	}
	ext := filepath.Ext(fileName)
	if ext != "" {
		return ParseFormat(ext)
	}
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: cannot infer format of %q", ErrUnsupportedFormat, fileName)
}

// ContentType returns the MIME type used when serving an export.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatTSV:
		return "text/tab-separated-values; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
