package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/sheetd/internal/core"
	"github.com/JonMunkholm/sheetd/internal/sheet"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is slack for form fields and boundaries on top of the
// file size limit.
const multipartOverhead = 1 << 20

// handleUpload parses an uploaded file into a new session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.service.Options().MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: %w", core.ErrFileTooLarge, err))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %w", core.ErrNoFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", core.ErrNoFile, err))
		return
	}
	defer file.Close()

	// One byte past the limit is enough for Upload to reject it.
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: read upload: %w", core.ErrParseFailure, err))
		return
	}

	result, err := s.service.Upload(r.Context(), header.Filename, r.FormValue("format"), data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePreview returns a window of the session's rows.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 0)
	offset := parseIntParam(r, "offset", 0)

	result, err := s.service.Preview(chi.URLParam(r, "sessionID"), limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// cellUpdateRequest is the body of POST /sessions/{id}/cells.
type cellUpdateRequest struct {
	Row          *int            `json:"row_idx"`
	Column       string          `json:"column"`
	Value        json.RawMessage `json:"value"`
	BaseRevision *int64          `json:"base_revision"`
}

// handleUpdateCell replaces one cell.
func (s *Server) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	var req cellUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Row == nil {
		respondError(w, r, fmt.Errorf("%w: row_idx is required", core.ErrInvalidRequest))
		return
	}
	value, err := decodeCellValue(req.Value)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rev, err := s.service.ApplyEdit(r.Context(), chi.URLParam(r, "sessionID"), core.CellEdit{
		Row:          *req.Row,
		Column:       req.Column,
		Value:        value,
		BaseRevision: req.BaseRevision,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revision": rev})
}

// handleExport streams the session's table in the requested format.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Export(r.Context(), chi.URLParam(r, "sessionID"), r.URL.Query().Get("filetype"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Revision", strconv.FormatInt(result.Revision, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

// historyResponse is the body of GET /sessions/{id}/history.
type historyResponse struct {
	SessionID string              `json:"session_id"`
	FileName  string              `json:"filename"`
	Revision  int64               `json:"revision"`
	Entries   []core.HistoryEntry `json:"entries"`
}

// handleHistory returns the committed mutation log, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	snap, err := s.service.Session(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	entries, err := s.service.History(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		SessionID: id,
		FileName:  snap.FileName,
		Revision:  snap.Revision,
		Entries:   entries,
	})
}

// handleDeleteSession drops a session. Unknown sessions succeed too.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.service.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleStatus reports session count and instruction capacity.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

// parseIntParam parses a non-negative integer query parameter. Missing or
// malformed values yield defaultVal.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// decodeJSON decodes a single JSON object from the request body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
	}
	return nil
}

// decodeCellValue converts a JSON scalar into a cell value. A missing
// value clears the cell.
func decodeCellValue(raw json.RawMessage) (sheet.Value, error) {
	if len(raw) == 0 {
		return sheet.Empty(), nil
	}
	var v sheet.Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return sheet.Value{}, fmt.Errorf("%w: %w", core.ErrInvalidValue, err)
	}
	return v, nil
}
