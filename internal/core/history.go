package core

import (
	"sync"
	"time"
)

// DefaultHistoryLimit is the number of commits remembered per session.
const DefaultHistoryLimit = 100

// ChangeKind identifies what produced a commit.
type ChangeKind string

const (
	ChangeEdit        ChangeKind = "cell_edit"
	ChangeInstruction ChangeKind = "instruction"
)

// HistoryEntry records one committed mutation of a session.
type HistoryEntry struct {
	Revision   int64      `json:"revision"`
	Kind       ChangeKind `json:"kind"`
	Summary    string     `json:"summary"`
	Structural bool       `json:"structural"`
	Rows       int        `json:"rows"`
	Columns    int        `json:"columns"`
	At         time.Time  `json:"at"`
}

// history is a bounded, append-only log of commits. Oldest entries are
// dropped first.
type history struct {
	mu      sync.Mutex
	limit   int
	entries []HistoryEntry
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &history{limit: limit}
}

func (h *history) add(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == h.limit {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.limit-1]
	}
	h.entries = append(h.entries, e)
}

// list returns the entries newest first.
func (h *history) list() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEntry, len(h.entries))
	for i, e := range h.entries {
		out[len(out)-1-i] = e
	}
	return out
}
