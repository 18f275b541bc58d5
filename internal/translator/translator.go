// Package translator turns free-text instructions into JavaScript fragments
// for the sandbox.
//
// The model behind a Translator is untrusted and may be slow or down.
// Implementations retry transient failures with exponential backoff, throttle
// outbound calls, and always return either a non-empty CodeFragment or an
// error wrapping one of the package sentinels.
package translator

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

var (
	// ErrNoCode is returned when the model answered but no code could be
	// extracted from the answer.
	ErrNoCode = errors.New("no code returned")

	// ErrUnavailable is returned when the model endpoint cannot be reached
	// or keeps failing after retries.
	ErrUnavailable = errors.New("translator unavailable")

	// ErrRateLimited is returned when the model endpoint keeps refusing
	// calls for quota reasons after retries.
	ErrRateLimited = errors.New("translator rate limited")

	// ErrRejected is returned when the model endpoint rejects the request
	// outright (4xx other than 429).
	ErrRejected = errors.New("translator rejected request")
)

// CodeFragment is untrusted code produced for one instruction.
type CodeFragment struct {
	Code string
	// Raw is the unprocessed model answer the code was extracted from.
	Raw string
}

// Translator converts an instruction into a CodeFragment for a table with
// the given schema.
type Translator interface {
	Translate(ctx context.Context, instruction string, schema sheet.Schema) (CodeFragment, error)
}

// Func adapts a plain function to the Translator interface.
type Func func(ctx context.Context, instruction string, schema sheet.Schema) (CodeFragment, error)

// Translate calls f.
func (f Func) Translate(ctx context.Context, instruction string, schema sheet.Schema) (CodeFragment, error) {
	return f(ctx, instruction, schema)
}

var (
	responseSection = regexp.MustCompile(`(?s)### Response:\s*\n(.+?)(?:\n###|$)`)
	fencedBlock     = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\n(.+?)```")
)

// ExtractCode pulls the code out of a model answer. A "### Response:"
// section wins, then the first fenced block, then the whole trimmed answer.
func ExtractCode(raw string) string {
	if strings.Contains(raw, "### Response:") {
		m := responseSection.FindStringSubmatch(raw)
		if m == nil {
			return ""
		}
		if f := fencedBlock.FindStringSubmatch(m[1]); f != nil {
			return strings.TrimSpace(f[1])
		}
		return strings.TrimSpace(m[1])
	}
	if strings.Contains(raw, "```") {
		if m := fencedBlock.FindStringSubmatch(raw); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}
	return strings.TrimSpace(raw)
}

// fragment builds a CodeFragment from a raw answer, failing when it holds
// no code.
func fragment(raw string) (CodeFragment, error) {
	code := ExtractCode(raw)
	if code == "" {
		return CodeFragment{}, ErrNoCode
	}
	return CodeFragment{Code: code, Raw: raw}, nil
}
