package sheet

// convert.go turns raw cell text into typed Values.
//
// Uploaded data is messy: currency symbols, thousands separators,
// accounting-style negatives "(123.45)" and stray whitespace all show up in
// otherwise numeric columns. Coercion is decided per column so a column is
// either entirely typed or entirely text; a single ambiguous cell keeps the
// whole column as text.

import (
	"regexp"
	"strconv"
	"strings"
)

// numericRegex validates a cleaned numeric string.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// leadingZeroRegex matches integers like "007" whose zeros are probably
// significant (ids, zip codes).
var leadingZeroRegex = regexp.MustCompile(`^[+-]?0\d+$`)

// ParseNumber parses a numeric cell. It accepts currency symbols,
// thousands separators and accounting negatives.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) || leadingZeroRegex.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseBool accepts "true" and "false" in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// CleanCell removes Excel formula wrappers (="value") and surrounding
// quotes left behind by some exporters.
func CleanCell(s string) string {
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		return s[2 : len(s)-1]
	}
	return s
}

// isBlank reports whether a raw cell counts as Empty.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// inferKind picks the most specific kind every non-blank cell in the
// column can be coerced to.
func inferKind(cells []string) Kind {
	numeric, boolean, seen := true, true, false
	for _, c := range cells {
		if isBlank(c) {
			continue
		}
		seen = true
		if numeric {
			if _, ok := ParseNumber(c); !ok {
				numeric = false
			}
		}
		if boolean {
			if _, ok := ParseBool(c); !ok {
				boolean = false
			}
		}
		if !numeric && !boolean {
			return KindText
		}
	}
	switch {
	case !seen:
		return KindEmpty
	case numeric:
		return KindNumber
	case boolean:
		return KindBoolean
	default:
		return KindText
	}
}

// coerce converts one raw cell under the column's inferred kind.
func coerce(raw string, kind Kind) Value {
	if isBlank(raw) {
		return Empty()
	}
	switch kind {
	case KindNumber:
		f, _ := ParseNumber(raw)
		return Number(f)
	case KindBoolean:
		b, _ := ParseBool(raw)
		return Bool(b)
	default:
		return Text(raw)
	}
}
