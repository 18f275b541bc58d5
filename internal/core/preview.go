package core

// Preview returns one window of a session's table in row order. A limit of
// zero or less uses the default window; any limit is capped at the maximum.
// Offsets past the end yield no rows.
func (s *Service) Preview(sessionID string, limit, offset int) (*PreviewResult, error) {
	snap, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.opts.PreviewDefaultLimit
	}
	if limit > s.opts.PreviewMaxLimit {
		limit = s.opts.PreviewMaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	return &PreviewResult{
		Columns:   snap.Table.Columns(),
		Rows:      snap.Table.Window(offset, limit),
		TotalRows: snap.Table.NumRows(),
		Offset:    offset,
		Limit:     limit,
		Revision:  snap.Revision,
	}, nil
}
