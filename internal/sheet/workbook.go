// Package sheet reads spreadsheets into a plain grid of cells and maps localized
// header rows to the canonical fields of an import schema.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrMalformedWorkbook is returned when the file is not a readable workbook.
	ErrMalformedWorkbook = errors.New("malformed workbook")
	// ErrNoSheets is returned when no sheet has any data.
	ErrNoSheets = errors.New("workbook has no data")
)

// Cell is one spreadsheet cell. Value is the raw text; for date-formatted cells Time
// holds the decoded date and IsDate is set.
type Cell struct {
	Value  string
	Time   time.Time
	IsDate bool
}

// Grid is the content of one sheet: row-major, rows may have different lengths.
type Grid struct {
	Sheet string
	Rows  [][]Cell
}

// Texts returns the raw text of row i, or nil if i is out of range.
func (g *Grid) Texts(i int) []string {
	if i < 0 || i >= len(g.Rows) {
		return nil
	}
	out := make([]string, len(g.Rows[i]))
	for j, c := range g.Rows[i] {
		out[j] = c.Value
	}
	return out
}

// TextRows returns every row as raw text.
func (g *Grid) TextRows() [][]string {
	out := make([][]string, len(g.Rows))
	for i := range g.Rows {
		out[i] = g.Texts(i)
	}
	return out
}

// ReadWorkbook reads the first sheet that has data from an .xlsx workbook.
func ReadWorkbook(r io.Reader) (*Grid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWorkbook, err)
	}
	defer func() { _ = f.Close() }()

	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %s: %v", ErrMalformedWorkbook, name, err)
		}
		if !hasData(rows) {
			continue
		}

		dates := newDateDetector(f, name)
		grid := &Grid{Sheet: name, Rows: make([][]Cell, len(rows))}
		for ri, row := range rows {
			cells := make([]Cell, len(row))
			for ci, v := range row {
				cells[ci] = Cell{Value: v}
				if t, ok := dates.decode(ci+1, ri+1, v); ok {
					cells[ci].Time = t
					cells[ci].IsDate = true
				}
			}
			grid.Rows[ri] = cells
		}

		log.Debug().Str("sheet", name).Int("rows", len(rows)).Msg("workbook sheet loaded")
		return grid, nil
	}

	return nil, ErrNoSheets
}

func hasData(rows [][]string) bool {
	for _, row := range rows {
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}

// dateDetector decides from the cell's number format whether a value is a date.
type dateDetector struct {
	f      *excelize.File
	sheet  string
	styles map[int]bool
}

func newDateDetector(f *excelize.File, sheet string) *dateDetector {
	return &dateDetector{f: f, sheet: sheet, styles: make(map[int]bool)}
}

func (d *dateDetector) decode(col, row int, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return time.Time{}, false
	}
	styleIdx, err := d.f.GetCellStyle(d.sheet, axis)
	if err != nil || styleIdx == 0 {
		return time.Time{}, false
	}

	isDate, cached := d.styles[styleIdx]
	if !cached {
		style, err := d.f.GetStyle(styleIdx)
		isDate = err == nil && style != nil && isDateFormat(style.NumFmt, style.CustomNumFmt)
		d.styles[styleIdx] = isDate
	}
	if !isDate {
		return time.Time{}, false
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	// ISO 8601 cells (t="d") keep their text as the raw value.
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// isDateFormat reports whether a number format renders dates. Built-in ids follow
// ECMA-376 18.8.30; custom formats count as dates when they use day or year tokens.
func isDateFormat(numFmt int, custom *string) bool {
	switch {
	case numFmt >= 14 && numFmt <= 22,
		numFmt >= 27 && numFmt <= 36,
		numFmt >= 50 && numFmt <= 58:
		return true
	}
	if custom == nil {
		return false
	}

	var b strings.Builder
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(*custom) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(r)
		}
	}
	stripped := b.String()
	return strings.ContainsAny(stripped, "dy")
}
