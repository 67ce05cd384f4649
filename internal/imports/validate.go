package imports

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/drivercheck/drivercheck-bot/internal/sheet"
)

var (
	emailPattern       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	companyCodePattern = regexp.MustCompile(`^[A-Za-z0-9-]{3,20}$`)
	phonePattern       = regexp.MustCompile(`^\+?[0-9 ()-]{6,20}$`)
	countryPattern     = regexp.MustCompile(`^[A-Za-z]{2}$`)
)

// dateLayouts are the accepted text forms of dates in import files.
var dateLayouts = []string{time.RFC3339, "2006-01-02", "02.01.2006"}

// ParseDate parses a date written in any accepted layout.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ExistingProfile is the part of a stored account that uniqueness rules look at.
type ExistingProfile struct {
	Email       string
	CompanyCode string
}

// Existing is a point-in-time snapshot of stored accounts. Validation never changes it.
type Existing []ExistingProfile

func (e Existing) hasEmail(email string) bool {
	for _, p := range e {
		if strings.EqualFold(p.Email, email) {
			return true
		}
	}
	return false
}

func (e Existing) hasCompanyCode(code string) bool {
	for _, p := range e {
		if strings.EqualFold(p.CompanyCode, code) {
			return true
		}
	}
	return false
}

// Validator applies the business rules of the record's schema.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a validator using the wall clock.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// Validate returns every rule violation of fields. An empty result means valid.
// Uniqueness is checked against existing only; duplicates within one batch are the
// coordinator's job.
func (v *Validator) Validate(fields Fields, existing Existing) []string {
	switch fields.Schema() {
	case sheet.UserSchema:
		return v.validateUser(fields, existing)
	case sheet.ReportSchema:
		return v.validateReport(fields)
	}
	return []string{"unsupported import schema"}
}

func (v *Validator) validateUser(fields Fields, existing Existing) []string {
	var errs []string

	if email, ok := fields.Get(sheet.FieldEmail); !ok {
		errs = append(errs, "email is required")
	} else if !emailPattern.MatchString(email) {
		errs = append(errs, fmt.Sprintf("email %q is not a valid address", email))
	} else if existing.hasEmail(email) {
		errs = append(errs, fmt.Sprintf("email %q is already registered", email))
	}

	if code, ok := fields.Get(sheet.FieldCompanyCode); !ok {
		errs = append(errs, "company code is required")
	} else if !companyCodePattern.MatchString(code) {
		errs = append(errs, fmt.Sprintf("company code %q must be 3-20 letters, digits or dashes", code))
	} else if existing.hasCompanyCode(code) {
		errs = append(errs, fmt.Sprintf("company code %q is already registered", code))
	}

	if name, ok := fields.Get(sheet.FieldCompanyName); !ok {
		errs = append(errs, "company name is required")
	} else if n := utf8.RuneCountInString(name); n < 2 || n > 200 {
		errs = append(errs, "company name must be 2-200 characters")
	}

	if phone, ok := fields.Get(sheet.FieldPhone); ok && !phonePattern.MatchString(phone) {
		errs = append(errs, fmt.Sprintf("phone %q is not a valid phone number", phone))
	}
	if country, ok := fields.Get(sheet.FieldCountry); ok && !countryPattern.MatchString(country) {
		errs = append(errs, fmt.Sprintf("country %q must be a two-letter ISO code", country))
	}

	return errs
}

func (v *Validator) validateReport(fields Fields) []string {
	var errs []string

	if name, ok := fields.Get(sheet.FieldFullName); !ok {
		errs = append(errs, "full name is required")
	} else if n := utf8.RuneCountInString(name); n < 2 || n > 120 {
		errs = append(errs, "full name must be 2-120 characters")
	}

	if _, ok := fields.Get(sheet.FieldComment); !ok {
		errs = append(errs, "comment is required")
	}

	if s, ok := fields.Get(sheet.FieldBirthDate); ok {
		if _, err := ParseDate(s); err != nil {
			errs = append(errs, fmt.Sprintf("birth date %q is not a valid date", s))
		}
	}
	if s, ok := fields.Get(sheet.FieldIncidentDate); ok {
		if t, err := ParseDate(s); err != nil {
			errs = append(errs, fmt.Sprintf("incident date %q is not a valid date", s))
		} else if t.After(v.now()) {
			errs = append(errs, fmt.Sprintf("incident date %q is in the future", s))
		}
	}

	if nat, ok := fields.Get(sheet.FieldNationality); ok && utf8.RuneCountInString(nat) > 56 {
		errs = append(errs, "nationality must be at most 56 characters")
	}

	return errs
}
