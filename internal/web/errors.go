package web

// errors.go provides unified error responses for the API.
//
// Every service error is classified by core.Classify, which picks the HTTP
// status and the user-facing message. The technical error is logged with
// the request ID and never sent to the client, except for a failed
// instruction, whose diagnostic and generated code are the result the
// caller asked for.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/sheetd/internal/core"
	"github.com/JonMunkholm/sheetd/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (ErrorCode, Kind) and human-readable
// (Message, Action) fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	ErrorCode string `json:"error_code"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`

	// Set when the error belongs to an instruction. Error then holds the
	// diagnostic text and Code the generated fragment, if any.
	InstructionID string                `json:"instruction_id,omitempty"`
	Phase         core.InstructionPhase `json:"phase,omitempty"`
	Code          string                `json:"code,omitempty"`
	Console       string                `json:"console,omitempty"`
	Revision      *int64                `json:"revision,omitempty"`
}

func newErrorResponse(err error) (ErrorResponse, int) {
	c := core.Classify(err)
	return ErrorResponse{
		Error:     c.Message,
		Message:   c.Message,
		Action:    c.Action,
		ErrorCode: c.Code,
		Kind:      string(c.Kind),
		Retryable: c.Retryable,
	}, c.Status
}

// respondError logs err and writes its classified JSON response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	resp, status := newErrorResponse(err)
	logError(r, err, resp, status)
	writeJSON(w, status, resp)
}

func newInstructionErrorResponse(res *core.InstructionResult) (ErrorResponse, int) {
	resp, status := newErrorResponse(res.Err)
	// Upstream translation errors stay in the log; they describe the model
	// provider, not the table.
	if res.Error != "" && !errors.Is(res.Err, core.ErrTranslationFailed) {
		resp.Error = res.Error
	}
	resp.InstructionID = res.InstructionID
	resp.Phase = res.Phase
	resp.Code = res.Code
	resp.Console = res.Console
	rev := res.Revision
	resp.Revision = &rev
	return resp, status
}

// respondInstructionError writes a failed instruction result.
func respondInstructionError(w http.ResponseWriter, r *http.Request, res *core.InstructionResult) {
	resp, status := newInstructionErrorResponse(res)
	logError(r, res.Err, resp, status)
	writeJSON(w, status, resp)
}

func logError(r *http.Request, err error, resp ErrorResponse, status int) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"error_code", resp.ErrorCode,
	)
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
