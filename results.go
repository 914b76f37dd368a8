package partdb

// Results is a thin, ordered, indexable view over a sequence of
// matched documents returned by Table.Find.
type Results struct {
	rows []Document
}

// NewResults wraps rows as a Results. rows is taken by reference.
func NewResults(rows []Document) Results {
	return Results{rows: rows}
}

// Len returns the number of rows.
func (r Results) Len() int { return len(r.rows) }

// At returns the row at position i.
func (r Results) At(i int) Document { return r.rows[i] }

// Rows returns the underlying slice, for callers who want to range
// over results directly instead of indexing.
func (r Results) Rows() []Document { return r.rows }
