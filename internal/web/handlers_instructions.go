package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/sheetd/internal/logging"
	"github.com/go-chi/chi/v5"
)

// instructionRequest is the body of POST /sessions/{id}/instructions.
type instructionRequest struct {
	Instruction string `json:"instruction"`
}

// handleInstruction runs a natural-language instruction against a session.
// With ?async=true it returns 202 and the instruction id immediately;
// otherwise it waits for the outcome. A client that disconnects while
// waiting cancels the instruction.
func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	var req instructionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		id, err := s.service.SubmitInstruction(r.Context(), sessionID, req.Instruction)
		if err != nil {
			respondError(w, r, err)
			return
		}
		w.Header().Set("Location", "/api/instructions/"+id+"/result")
		writeJSON(w, http.StatusAccepted, map[string]string{"instruction_id": id})
		return
	}

	res, err := s.service.RunInstruction(r.Context(), sessionID, req.Instruction)
	switch {
	case res == nil && err != nil:
		if r.Context().Err() != nil {
			logging.WithFields(r.Context(), "session_id", sessionID).Info("client gone, instruction cancelled")
			return
		}
		respondError(w, r, err)
	case err != nil:
		respondInstructionError(w, r, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// handleInstructionResult returns the outcome of a finished instruction, or
// 202 with the current progress while it is still running.
func (s *Server) handleInstructionResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instructionID")

	res, err := s.service.GetInstructionResult(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if res == nil {
		progress, err := s.service.GetInstructionProgress(id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, progress)
		return
	}
	if res.Err != nil {
		respondInstructionError(w, r, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCancelInstruction cancels a queued or running instruction.
func (s *Server) handleCancelInstruction(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelInstruction(chi.URLParam(r, "instructionID")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleInstructionProgress streams instruction progress via Server-Sent
// Events. Each event id is the progress sequence number, so a client that
// reconnects with Last-Event-ID skips what it has already seen.
func (s *Server) handleInstructionProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instructionID")

	lastSeq := -1
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}
	if lastEventID != "" {
		if n, err := strconv.Atoi(lastEventID); err == nil {
			lastSeq = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() {
		if err := rc.Flush(); err != nil {
			logging.FromContext(r.Context()).Debug("sse flush failed", "error", err)
		}
	}
	flush()

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				writeEvent(w, "complete", "", s.completion(id))
				flush()
				return
			}
			if progress.Seq <= lastSeq {
				continue
			}
			writeEvent(w, "progress", strconv.Itoa(progress.Seq), progress)
			flush()

		case <-r.Context().Done():
			return
		}
	}
}

// completion is the payload of the final SSE event.
func (s *Server) completion(id string) any {
	res, err := s.service.GetInstructionResult(id)
	if err != nil || res == nil {
		return map[string]string{"instruction_id": id}
	}
	if res.Err != nil {
		resp, _ := newInstructionErrorResponse(res)
		return resp
	}
	return res
}

func writeEvent(w http.ResponseWriter, event, id string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
