package imports

import (
	"errors"
	"strings"
	"time"

	"github.com/drivercheck/drivercheck-bot/internal/sheet"
)

// Extractor turns raw rows into pending records.
type Extractor struct {
	schema *sheet.Schema
}

// NewExtractor creates an extractor for schema.
func NewExtractor(schema *sheet.Schema) *Extractor {
	return &Extractor{schema: schema}
}

// Extract builds a pending record from one row. Cell text is trimmed, date cells become
// RFC 3339 timestamps and empty or missing cells leave their field absent. Rows are
// never dropped here, even when they lack required values.
func (e *Extractor) Extract(rowID int, row []sheet.Cell, mapping sheet.HeaderMapping) Record {
	fields := Fields{schema: e.schema, values: make(map[sheet.Field]string, len(mapping))}
	for field, col := range mapping {
		if col < 0 || col >= len(row) || !e.schema.Has(field) {
			continue
		}
		fields.set(field, cellText(row[col]))
	}
	return Record{RowID: rowID, Fields: fields, Status: StatusPending}
}

func cellText(c sheet.Cell) string {
	if c.IsDate {
		return c.Time.UTC().Format(time.RFC3339)
	}
	return strings.TrimSpace(c.Value)
}

// ExtractAll extracts every row after headerRow, skipping rows with no values.
func ExtractAll(grid *sheet.Grid, headerRow int, mapping sheet.HeaderMapping, schema *sheet.Schema) []Record {
	ex := NewExtractor(schema)
	var records []Record
	for i := headerRow + 1; i < len(grid.Rows); i++ {
		rec := ex.Extract(i+1, grid.Rows[i], mapping)
		if rec.IsBlank() {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// ErrNoRows is returned when a sheet has a header but no data rows.
var ErrNoRows = errors.New("sheet has no data rows")

// Load locates the header row of grid, resolves it against the kind's schema and
// extracts the data rows. Header problems are returned before any row is read.
func Load(grid *sheet.Grid, kind Kind) ([]Record, error) {
	schema := kind.Schema()
	rows := grid.TextRows()

	headerRow := sheet.DetectHeaderRow(rows, schema)
	if headerRow < 0 {
		headerRow = 0
	}

	mapping, err := sheet.NewHeaderResolver(schema).Resolve(grid.Texts(headerRow))
	if err != nil {
		return nil, err
	}

	records := ExtractAll(grid, headerRow, mapping, schema)
	if len(records) == 0 {
		return nil, ErrNoRows
	}
	return records, nil
}
