package sheet

import (
	"fmt"
	"strings"
)

// Field is a canonical, locale-independent column name.
type Field string

// Report import fields.
const (
	FieldFullName     Field = "fullName"
	FieldBirthDate    Field = "birthDate"
	FieldNationality  Field = "nationality"
	FieldIncidentDate Field = "incidentDate"
	FieldComment      Field = "comment"
)

// User import fields.
const (
	FieldEmail         Field = "email"
	FieldCompanyName   Field = "companyName"
	FieldCompanyCode   Field = "companyCode"
	FieldPhone         Field = "phone"
	FieldContactPerson Field = "contactPerson"
	FieldCountry       Field = "country"
)

// FieldSpec describes one column of an import schema.
type FieldSpec struct {
	Name     Field
	Required bool // Column must be present in the header row
	Date     bool // Values are dates
	Aliases  []string
}

// Schema is the closed set of columns one kind of import understands.
type Schema struct {
	Name   string
	Fields []FieldSpec

	aliases map[string]Field
}

// Spec returns the declaration of field f.
func (s *Schema) Spec(f Field) (FieldSpec, bool) {
	for _, fs := range s.Fields {
		if fs.Name == f {
			return fs, true
		}
	}
	return FieldSpec{}, false
}

// Has reports whether f belongs to the schema.
func (s *Schema) Has(f Field) bool {
	_, ok := s.Spec(f)
	return ok
}

// lookup maps a header cell to a field using the alias table.
func (s *Schema) lookup(header string) (Field, bool) {
	f, ok := s.aliases[normalizeHeader(header)]
	return f, ok
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// NewSchema builds a schema and its alias table. Every field's canonical name is an
// alias of itself. An alias may belong to only one field.
func NewSchema(name string, fields []FieldSpec) (*Schema, error) {
	s := &Schema{Name: name, Fields: fields, aliases: make(map[string]Field)}
	for _, fs := range fields {
		for _, alias := range append([]string{string(fs.Name)}, fs.Aliases...) {
			key := normalizeHeader(alias)
			if key == "" {
				continue
			}
			if other, dup := s.aliases[key]; dup && other != fs.Name {
				return nil, fmt.Errorf("schema %s: alias %q used by %s and %s", name, alias, other, fs.Name)
			}
			s.aliases[key] = fs.Name
		}
	}
	return s, nil
}

func mustSchema(name string, fields []FieldSpec) *Schema {
	s, err := NewSchema(name, fields)
	if err != nil {
		panic(err)
	}
	return s
}

// ReportSchema is the column set of driver report imports.
var ReportSchema = mustSchema("reports", []FieldSpec{
	{
		Name:     FieldFullName,
		Required: true,
		Aliases: []string{
			"full name", "name", "driver", "driver name",
			"vardas pavardė", "vardas, pavardė", "vardas ir pavardė", "vairuotojas",
			"фио", "имя", "водитель",
			"imię i nazwisko", "kierowca",
		},
	},
	{
		Name: FieldBirthDate,
		Date: true,
		Aliases: []string{
			"birth date", "date of birth",
			"gimimo data",
			"дата рождения",
			"data urodzenia",
		},
	},
	{
		Name: FieldNationality,
		Aliases: []string{
			"nationality", "citizenship",
			"pilietybė",
			"гражданство",
			"obywatelstwo",
		},
	},
	{
		Name: FieldIncidentDate,
		Date: true,
		Aliases: []string{
			"incident date", "date",
			"įvykio data", "data",
			"дата", "дата инцидента",
			"data zdarzenia",
		},
	},
	{
		Name:     FieldComment,
		Required: true,
		Aliases: []string{
			"comment", "description",
			"komentaras", "aprašymas",
			"комментарий", "описание",
			"komentarz", "opis",
		},
	},
})

// UserSchema is the column set of company account imports.
var UserSchema = mustSchema("users", []FieldSpec{
	{
		Name:     FieldEmail,
		Required: true,
		Aliases: []string{
			"e-mail", "email address",
			"el. paštas", "el. pastas", "el.paštas",
			"электронная почта", "почта",
			"adres e-mail",
		},
	},
	{
		Name:     FieldCompanyName,
		Required: true,
		Aliases: []string{
			"company name", "company",
			"įmonė", "įmonės pavadinimas",
			"компания", "название компании",
			"firma", "nazwa firmy",
		},
	},
	{
		Name:     FieldCompanyCode,
		Required: true,
		Aliases: []string{
			"company code", "registration code",
			"įmonės kodas",
			"код компании",
			"kod firmy",
		},
	},
	{
		Name: FieldPhone,
		Aliases: []string{
			"telephone", "phone number",
			"telefonas",
			"телефон",
			"telefon",
		},
	},
	{
		Name: FieldContactPerson,
		Aliases: []string{
			"contact person", "contact",
			"kontaktinis asmuo",
			"контактное лицо",
			"osoba kontaktowa",
		},
	},
	{
		Name: FieldCountry,
		Aliases: []string{
			"šalis",
			"страна",
			"kraj",
		},
	},
})
