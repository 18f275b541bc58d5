package core

import (
	"encoding/json"
	"time"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

// InstructionPhase indicates the current stage of an instruction.
type InstructionPhase string

const (
	PhaseReceived    InstructionPhase = "received"
	PhaseTranslating InstructionPhase = "translating"
	PhaseExecuting   InstructionPhase = "executing"
	PhaseCommitted   InstructionPhase = "committed"
	PhaseFailed      InstructionPhase = "failed"
	PhaseCancelled   InstructionPhase = "cancelled"
)

// Terminal reports whether no further phase follows p.
func (p InstructionPhase) Terminal() bool {
	switch p {
	case PhaseCommitted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// InstructionProgress is an advisory snapshot of a running instruction.
type InstructionProgress struct {
	InstructionID string           `json:"instruction_id"`
	SessionID     string           `json:"session_id"`
	Phase         InstructionPhase `json:"phase"`
	// Seq increases with every published update.
	Seq     int    `json:"seq"`
	Elapsed int64  `json:"elapsed_ms"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// InstructionResult is the outcome of an instruction.
type InstructionResult struct {
	InstructionID string           `json:"instruction_id"`
	SessionID     string           `json:"session_id"`
	Instruction   string           `json:"instruction"`
	Phase         InstructionPhase `json:"phase"`
	Code          string           `json:"code,omitempty"`
	Result        json.RawMessage  `json:"result,omitempty"`
	Console       string           `json:"console,omitempty"`
	// Revision is the session revision after the instruction. Equal to the
	// prior revision when nothing was committed.
	Revision int64         `json:"revision"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration_ns"`
}

// CellEdit replaces a single cell.
type CellEdit struct {
	Row    int
	Column string
	Value  sheet.Value
	// BaseRevision is the revision the client's view was rendered from.
	// Nil skips the structural staleness check.
	BaseRevision *int64
}

// UploadResult describes a freshly created session.
type UploadResult struct {
	SessionID string   `json:"session_id"`
	FileName  string   `json:"filename"`
	Format    string   `json:"format"`
	Columns   []string `json:"columns"`
	Rows      int      `json:"rows"`
	Revision  int64    `json:"revision"`
}

// PreviewResult is one window of a session's table.
type PreviewResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"total_rows"`
	Offset    int              `json:"offset"`
	Limit     int              `json:"limit"`
	Revision  int64            `json:"revision"`
}

// ExportResult is an encoded snapshot of a session's table.
type ExportResult struct {
	Data        []byte
	ContentType string
	FileName    string
	Revision    int64
}

// Status is a point-in-time summary of the service.
type Status struct {
	Sessions           int           `json:"sessions"`
	ActiveInstructions int           `json:"active_instructions"`
	Limiter            LimiterStatus `json:"limiter"`
}
