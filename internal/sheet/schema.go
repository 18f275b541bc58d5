package sheet

// ColumnSchema describes one column for the translator.
type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema is the summary handed to the translator: column names with their
// inferred types, the row count, and a few leading rows.
type Schema struct {
	Columns  []ColumnSchema   `json:"columns"`
	RowCount int              `json:"row_count"`
	Sample   []map[string]any `json:"sample"`
}

// Summarize builds a Schema for t with up to sampleRows sample records.
func Summarize(t *Table, sampleRows int) Schema {
	cols := make([]ColumnSchema, len(t.columns))
	for i, name := range t.columns {
		cols[i] = ColumnSchema{Name: name, Type: t.ColumnKind(i).String()}
	}
	return Schema{
		Columns:  cols,
		RowCount: len(t.rows),
		Sample:   t.Window(0, sampleRows),
	}
}

// ColumnKind reports the single kind shared by every non-empty cell of a
// column. Mixed columns report Text; all-empty columns report Empty.
func (t *Table) ColumnKind(col int) Kind {
	kind := KindEmpty
	for _, r := range t.rows {
		if r[col].IsEmpty() {
			continue
		}
		k := r[col].Kind()
		if kind == KindEmpty {
			kind = k
			continue
		}
		if kind != k {
			return KindText
		}
	}
	return kind
}
