package census

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
)

// Table is a column-ordered tabular result from the Data API. Cells are
// kept as the API's strings; Float/Int views coerce on demand using each
// column's predicate type. Columns fetched as Census variables stay bound
// to their Variable so downstream renaming and regrouping can reason about
// label paths.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string

	geography *Geography
	variables map[string]*Variable // column name -> bound variable
}

// NewTable creates a table with the given column order.
func NewTable(columns []string) *Table {
	t := &Table{
		columns:   append([]string{}, columns...),
		index:     make(map[string]int, len(columns)),
		variables: make(map[string]*Variable),
	}
	for i, c := range t.columns {
		t.index[c] = i
	}
	return t
}

// ParseTable decodes a Data API response body: a JSON array of arrays whose
// first row is the header.
func ParseTable(body []byte) (*Table, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "census: decode response")
	}
	if len(raw) == 0 {
		return NewTable(nil), nil
	}

	decodeRow := func(cells []json.RawMessage) ([]string, error) {
		row := make([]string, len(cells))
		for i, cell := range cells {
			var s *string
			if err := json.Unmarshal(cell, &s); err != nil {
				// Some vintages emit bare numbers.
				var n json.Number
				if err := json.Unmarshal(cell, &n); err != nil {
					return nil, eris.Wrap(err, "census: decode cell")
				}
				row[i] = n.String()
				continue
			}
			if s != nil {
				row[i] = *s
			}
		}
		return row, nil
	}

	header, err := decodeRow(raw[0])
	if err != nil {
		return nil, err
	}
	t := NewTable(header)
	for _, cells := range raw[1:] {
		row, err := decodeRow(cells)
		if err != nil {
			return nil, err
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string{}, t.columns...)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns row i as a copy.
func (t *Table) Row(i int) []string {
	return append([]string{}, t.rows[i]...)
}

// AppendRow adds a row, which must match the column count.
func (t *Table) AppendRow(row []string) error {
	if len(row) != len(t.columns) {
		return eris.Errorf("census: row has %d cells, table has %d columns", len(row), len(t.columns))
	}
	t.rows = append(t.rows, append([]string{}, row...))
	return nil
}

// Column returns the named column's cells, or nil if absent.
func (t *Table) Column(name string) []string {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Float returns the named column coerced to float64. Cells that do not
// parse come back as NaN via ok=false in the parallel validity slice.
func (t *Table) Float(name string) ([]float64, []bool) {
	cells := t.Column(name)
	if cells == nil {
		return nil, nil
	}
	vals := make([]float64, len(cells))
	ok := make([]bool, len(cells))
	for i, cell := range cells {
		v, err := strconv.ParseFloat(cell, 64)
		if err == nil {
			vals[i] = v
			ok[i] = true
		}
	}
	return vals, ok
}

// Geography returns the geography hierarchy this table was fetched at.
func (t *Table) Geography() *Geography {
	return t.geography
}

// SetGeography binds the geography hierarchy to the table.
func (t *Table) SetGeography(g *Geography) {
	t.geography = g
}

// Variable returns the Census variable bound to a column, or nil.
func (t *Table) Variable(column string) *Variable {
	return t.variables[column]
}

// BindVariable attaches variable metadata to a column.
func (t *Table) BindVariable(column string, v *Variable) {
	t.variables[column] = v
}

// RenameColumn renames a column, carrying its variable binding along.
func (t *Table) RenameColumn(from, to string) error {
	i, ok := t.index[from]
	if !ok {
		return eris.Errorf("census: no column %q", from)
	}
	t.columns[i] = to
	delete(t.index, from)
	t.index[to] = i
	if v, bound := t.variables[from]; bound {
		delete(t.variables, from)
		t.variables[to] = v
	}
	return nil
}

// DropColumns removes the named columns and their bindings.
func (t *Table) DropColumns(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
		delete(t.variables, n)
	}

	var kept []string
	keptIdx := make([]int, 0, len(t.columns))
	for i, c := range t.columns {
		if !drop[c] {
			kept = append(kept, c)
			keptIdx = append(keptIdx, i)
		}
	}
	newRows := make([][]string, len(t.rows))
	for r, row := range t.rows {
		newRow := make([]string, len(keptIdx))
		for j, i := range keptIdx {
			newRow[j] = row[i]
		}
		newRows[r] = newRow
	}
	t.columns = kept
	t.rows = newRows
	t.index = make(map[string]int, len(kept))
	for i, c := range kept {
		t.index[c] = i
	}
}

// AddColumn appends a column with the given cells.
func (t *Table) AddColumn(name string, cells []string) error {
	if len(t.rows) > 0 && len(cells) != len(t.rows) {
		return eris.Errorf("census: column %q has %d cells, table has %d rows", name, len(cells), len(t.rows))
	}
	if t.HasColumn(name) {
		return eris.Errorf("census: column %q already exists", name)
	}
	t.columns = append(t.columns, name)
	t.index[name] = len(t.columns) - 1
	if len(t.rows) == 0 {
		for range cells {
			t.rows = append(t.rows, make([]string, len(t.columns)-1))
		}
	}
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], cells[i])
	}
	return nil
}

// SetColumn replaces the named column's cells.
func (t *Table) SetColumn(name string, cells []string) error {
	i, ok := t.index[name]
	if !ok {
		return eris.Errorf("census: no column %q", name)
	}
	if len(cells) != len(t.rows) {
		return eris.Errorf("census: column %q has %d cells, table has %d rows", name, len(cells), len(t.rows))
	}
	for r := range t.rows {
		t.rows[r][i] = cells[r]
	}
	return nil
}

// mergeOnGeoID joins chunked responses for the same geography rows into one
// table keyed on GEO_ID, in first-seen row order.
func mergeOnGeoID(tables []*Table) (*Table, error) {
	if len(tables) == 1 {
		return tables[0], nil
	}

	var colOrder []string
	colSeen := map[string]bool{}
	for _, t := range tables {
		if !t.HasColumn("GEO_ID") {
			return nil, eris.New("census: cannot merge chunked responses without GEO_ID")
		}
		for _, c := range t.columns {
			if !colSeen[c] {
				colSeen[c] = true
				colOrder = append(colOrder, c)
			}
		}
	}

	merged := NewTable(colOrder)
	cells := map[string]map[string]string{} // geo id -> column -> cell
	var geoOrder []string
	for _, t := range tables {
		geoIDs := t.Column("GEO_ID")
		for r, geoID := range geoIDs {
			if _, ok := cells[geoID]; !ok {
				cells[geoID] = map[string]string{}
				geoOrder = append(geoOrder, geoID)
			}
			for i, c := range t.columns {
				cells[geoID][c] = t.rows[r][i]
			}
		}
	}

	for _, geoID := range geoOrder {
		row := make([]string, len(colOrder))
		for i, c := range colOrder {
			row[i] = cells[geoID][c]
		}
		merged.rows = append(merged.rows, row)
	}
	return merged, nil
}

// WriteCSV writes the table, header first.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return eris.Wrap(err, "census: write csv header")
	}
	for _, row := range t.rows {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "census: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "census: flush csv")
}
