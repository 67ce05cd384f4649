package sheet

import (
	"fmt"
	"strings"
)

// headerScanDepth is how many leading rows are considered when looking for the header.
const headerScanDepth = 10

// HeaderMapping maps canonical fields to zero-based column indexes.
// Optional fields that are absent from the file do not appear.
type HeaderMapping map[Field]int

// MissingColumnsError lists every required column that a header row lacks.
type MissingColumnsError struct {
	Schema string
	Fields []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s import is missing required columns: %s", e.Schema, strings.Join(e.Fields, ", "))
}

// HeaderResolver maps a localized header row to canonical fields.
// A resolver remembers the outcome of its last Resolve call, so use one per file.
type HeaderResolver struct {
	schema  *Schema
	missing []string
}

// NewHeaderResolver creates a resolver for schema.
func NewHeaderResolver(schema *Schema) *HeaderResolver {
	return &HeaderResolver{schema: schema}
}

// Resolve matches each header cell against the schema's aliases, case-insensitively
// and without fuzzy matching. When several columns match the same field, the leftmost
// one wins. If required fields are missing, the partial mapping is returned together
// with a *MissingColumnsError naming all of them.
func (r *HeaderResolver) Resolve(headerRow []string) (HeaderMapping, error) {
	mapping := make(HeaderMapping)
	for col, header := range headerRow {
		field, ok := r.schema.lookup(header)
		if !ok {
			continue
		}
		if _, taken := mapping[field]; taken {
			continue
		}
		mapping[field] = col
	}

	r.missing = nil
	for _, fs := range r.schema.Fields {
		if _, ok := mapping[fs.Name]; fs.Required && !ok {
			r.missing = append(r.missing, string(fs.Name))
		}
	}

	if len(r.missing) > 0 {
		return mapping, &MissingColumnsError{Schema: r.schema.Name, Fields: r.MissingRequiredFields()}
	}
	return mapping, nil
}

// MissingRequiredFields returns the required fields the last Resolve did not find.
func (r *HeaderResolver) MissingRequiredFields() []string {
	return append([]string(nil), r.missing...)
}

// DetectHeaderRow returns the index of the row that looks most like the header:
// the first of the leading rows with the most alias matches. It returns -1 when no
// row matches any alias.
func DetectHeaderRow(rows [][]string, schema *Schema) int {
	best, bestHits := -1, 0
	for i := 0; i < len(rows) && i < headerScanDepth; i++ {
		hits := 0
		seen := make(map[Field]bool)
		for _, cell := range rows[i] {
			if f, ok := schema.lookup(cell); ok && !seen[f] {
				seen[f] = true
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	return best
}
