// Package imports turns spreadsheet rows into import records, validates them and
// drives them through classification and persistence.
package imports

import (
	"fmt"
	"strings"

	"github.com/drivercheck/drivercheck-bot/internal/classify"
	"github.com/drivercheck/drivercheck-bot/internal/sheet"
)

// Kind selects which schema and which pipeline an import uses.
type Kind string

const (
	KindReports Kind = "reports"
	KindUsers   Kind = "users"
)

// ParseKind parses a user-supplied import kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindReports:
		return KindReports, nil
	case KindUsers:
		return KindUsers, nil
	}
	return "", fmt.Errorf("unknown import kind %q (want reports or users)", s)
}

// Schema returns the column schema for the kind.
func (k Kind) Schema() *sheet.Schema {
	if k == KindUsers {
		return sheet.UserSchema
	}
	return sheet.ReportSchema
}

// Status is the lifecycle state of one record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether no further transitions follow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusSkipped
}

// Fields holds the extracted values of one row. Only fields declared by the schema can be
// stored; absent fields are not provided rather than empty.
type Fields struct {
	schema *sheet.Schema
	values map[sheet.Field]string
}

// NewFields builds a field set for schema. Empty values are dropped and undeclared fields
// are rejected.
func NewFields(schema *sheet.Schema, values map[sheet.Field]string) (Fields, error) {
	fs := Fields{schema: schema, values: make(map[sheet.Field]string, len(values))}
	for f, v := range values {
		if !schema.Has(f) {
			return Fields{}, fmt.Errorf("field %s is not part of the %s schema", f, schema.Name)
		}
		fs.set(f, v)
	}
	return fs, nil
}

func (fs *Fields) set(f sheet.Field, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if fs.values == nil {
		fs.values = make(map[sheet.Field]string)
	}
	fs.values[f] = v
}

// Get returns the value of f and whether it was provided.
func (fs Fields) Get(f sheet.Field) (string, bool) {
	v, ok := fs.values[f]
	return v, ok
}

// Value returns the value of f or "".
func (fs Fields) Value(f sheet.Field) string {
	return fs.values[f]
}

// Schema returns the schema the fields belong to.
func (fs Fields) Schema() *sheet.Schema {
	return fs.schema
}

// Len returns the number of provided fields.
func (fs Fields) Len() int {
	return len(fs.values)
}

func (fs Fields) clone() Fields {
	out := Fields{schema: fs.schema, values: make(map[sheet.Field]string, len(fs.values))}
	for k, v := range fs.values {
		out.values[k] = v
	}
	return out
}

// Record is one candidate row of an import together with its processing state.
type Record struct {
	RowID  int // 1-based row number in the source sheet
	Fields Fields
	Status Status
	Errors []string
	Result *classify.Result
}

// IsBlank reports whether the row had no values at all.
func (r Record) IsBlank() bool {
	return r.Fields.Len() == 0
}

// Clone returns a deep copy, safe to hand to callbacks.
func (r Record) Clone() Record {
	out := r
	out.Fields = r.Fields.clone()
	out.Errors = append([]string(nil), r.Errors...)
	if r.Result != nil {
		res := classify.Result{CategoryID: r.Result.CategoryID, Tags: append([]string{}, r.Result.Tags...)}
		out.Result = &res
	}
	return out
}
