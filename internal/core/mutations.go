package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

// ApplyEdit replaces one cell and returns the session revision afterwards.
//
// An edit that writes the value already present commits nothing and
// returns the current revision, so a retried edit is harmless. An edit whose
// BaseRevision predates the last change to the table's shape is rejected
// with ErrRowOutOfRange, since its row index may now address another row.
func (s *Service) ApplyEdit(ctx context.Context, sessionID string, edit CellEdit) (int64, error) {
	var (
		old     sheet.Value
		changed bool
	)

	snap, err := s.store.WithLock(ctx, sessionID, func(cur Snapshot) (*Change, error) {
		if edit.BaseRevision != nil && *edit.BaseRevision < cur.ShapeRevision {
			return nil, fmt.Errorf("%w: row %d addressed at revision %d, table reshaped at revision %d",
				ErrRowOutOfRange, edit.Row, *edit.BaseRevision, cur.ShapeRevision)
		}
		if edit.Row < 0 || edit.Row >= cur.Table.NumRows() {
			return nil, fmt.Errorf("%w: row %d, table has %d rows", ErrRowOutOfRange, edit.Row, cur.Table.NumRows())
		}
		col, ok := cur.Table.ColumnIndex(edit.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, edit.Column)
		}

		old = cur.Table.Cell(edit.Row, col)
		if old.Equal(edit.Value) {
			return nil, nil
		}
		changed = true
		return &Change{
			Table:   cur.Table.WithCell(edit.Row, col, edit.Value),
			Kind:    ChangeEdit,
			Summary: fmt.Sprintf("%s[%d] = %s", edit.Column, edit.Row, edit.Value),
		}, nil
	})
	if err != nil {
		return 0, err
	}

	if changed {
		slog.Debug("cell edited",
			"session_id", sessionID,
			"row", edit.Row,
			"column", edit.Column,
			"revision", snap.Revision,
		)
		row := edit.Row
		s.audit.submit(ctx, AuditParams{
			Action:     ActionCellEdit,
			SessionID:  sessionID,
			ColumnName: edit.Column,
			RowIndex:   &row,
			OldValue:   old.String(),
			NewValue:   edit.Value.String(),
			Revision:   snap.Revision,
		})
	}
	return snap.Revision, nil
}
