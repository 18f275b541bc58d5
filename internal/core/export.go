package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

// Export encodes the current table of a session. The table is read from a
// single snapshot, so a commit racing the export is either fully included
// or not at all. An empty filetype exports CSV.
func (s *Service) Export(ctx context.Context, sessionID, filetype string) (*ExportResult, error) {
	if filetype == "" {
		filetype = string(sheet.FormatCSV)
	}
	format, err := sheet.ParseFormat(filetype)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := sheet.Encode(snap.Table, format)
	if err != nil {
		return nil, fmt.Errorf("export session %s as %s: %w", sessionID, format, err)
	}

	slog.Debug("session exported",
		"session_id", sessionID,
		"format", format,
		"bytes", len(data),
		"revision", snap.Revision,
	)
	s.audit.submit(ctx, AuditParams{
		Action:       ActionExport,
		SessionID:    sessionID,
		FileName:     "output." + string(format),
		RowsAffected: snap.Table.NumRows(),
		Revision:     snap.Revision,
	})

	return &ExportResult{
		Data:        data,
		ContentType: format.ContentType(),
		FileName:    "output." + string(format),
		Revision:    snap.Revision,
	}, nil
}
