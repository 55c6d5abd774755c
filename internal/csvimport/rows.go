package csvimport

import (
	"fmt"
	"strings"

	"neonetworker/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type column struct {
	header string
	field  string
	known  bool
}

type sheet struct {
	headers []string
	columns []column
	rows    [][]string
}

func newSheet(records [][]string) (*sheet, error) {
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}
	s := &sheet{headers: make([]string, len(records[0]))}
	for i, h := range records[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		s.headers[i] = h
		field, known := mapHeader(h)
		s.columns = append(s.columns, column{header: h, field: field, known: known})
	}
	if strings.Join(s.headers, "") == "" {
		return nil, ErrEmptyFile
	}
	for _, record := range records[1:] {
		if !blank(record) {
			s.rows = append(s.rows, record)
		}
	}
	return s, nil
}

func (s *sheet) mapping() map[string]string {
	out := make(map[string]string, len(s.columns))
	for _, c := range s.columns {
		if c.header == "" {
			continue
		}
		if c.known {
			out[c.header] = c.field
		} else {
			out[c.header] = "custom_fields." + c.field
		}
	}
	return out
}

// row is one normalised record. Enum fields hold nil when unset.
type row struct {
	fields   map[string]string
	enums    map[string]*string
	custom   map[string]any
	warnings []Warning
}

var enumSets = map[string][]string{
	"status":     models.PersonStatuses,
	"priority":   models.Priorities,
	"gender":     models.Genders,
	"job_status": models.JobStatuses,
}

var importDefaults = map[string]string{
	"status":   models.PersonStatusActive,
	"priority": models.PriorityMedium,
}

func (s *sheet) normalize(rowNum int, record []string, mode Mode) (*row, bool) {
	r := &row{
		fields: make(map[string]string),
		enums:  make(map[string]*string),
		custom: make(map[string]any),
	}
	warn := func(field, kind, format string, args ...any) {
		r.warnings = append(r.warnings, Warning{Row: rowNum, Field: field, Type: kind, Message: fmt.Sprintf(format, args...)})
	}

	for i, col := range s.columns {
		if i >= len(record) || col.field == "" {
			continue
		}
		value := strings.TrimSpace(record[i])
		if value == "" {
			continue
		}
		if cut, truncated := truncate(value, models.MaxFieldLength); truncated {
			value = cut
			warn(col.field, WarningTruncation, "%s truncated to %d characters", col.header, models.MaxFieldLength)
		}
		switch {
		case !col.known:
			r.custom[col.field] = value
		case enumSets[col.field] != nil:
			r.setEnum(col.field, value, mode, warn)
		case r.fields[col.field] == "":
			r.fields[col.field] = value
		}
	}

	if mode == ModeImport {
		for field, def := range importDefaults {
			if r.enums[field] == nil {
				v := def
				r.enums[field] = &v
			}
		}
	}

	r.splitNames()
	if r.fields["first_name"] == "" && r.fields["last_name"] == "" {
		warn("first_name", WarningMissingData, "row has neither first nor last name")
		return r, false
	}
	if email := r.fields["email"]; email != "" {
		r.fields["email"] = strings.ToLower(email)
	}
	return r, true
}

func (r *row) setEnum(field, raw string, mode Mode, warn func(field, kind, format string, args ...any)) {
	value := enumValue(raw)
	if models.OneOf(value, enumSets[field]) {
		r.enums[field] = &value
		return
	}
	if def, ok := importDefaults[field]; ok && mode == ModeImport {
		r.enums[field] = &def
		warn(field, WarningValidation, "invalid %s %q, using %q", field, raw, def)
		return
	}
	r.enums[field] = nil
	warn(field, WarningValidation, "invalid %s %q, left empty", field, raw)
}

// splitNames handles a whole name in a single column: either a full-name
// column, or a first name containing a space with no last name.
func (r *row) splitNames() {
	first, last := r.fields["first_name"], r.fields["last_name"]
	if full := r.fields[fieldFullName]; full != "" && first == "" && last == "" {
		first = full
	}
	delete(r.fields, fieldFullName)
	if last == "" && strings.Contains(first, " ") {
		first, last = splitName(first)
	}
	r.fields["first_name"], r.fields["last_name"] = first, last
}

func (r *row) preview() map[string]any {
	out := make(map[string]any, len(r.fields)+len(r.enums)+1)
	for k, v := range r.fields {
		out[k] = v
	}
	for k, v := range r.enums {
		if v == nil {
			out[k] = nil
		} else {
			out[k] = *v
		}
	}
	out["custom_fields"] = r.custom
	return out
}

func (r *row) person(ownerID uuid.UUID) *models.Person {
	p := &models.Person{
		OwnerID:     ownerID,
		FirstName:   r.fields["first_name"],
		LastName:    r.fields["last_name"],
		Email:       r.fields["email"],
		Phone:       r.fields["phone"],
		Company:     r.fields["company"],
		JobTitle:    r.fields["job_title"],
		Categories:  r.fields["categories"],
		Tags:        r.fields["tags"],
		Notes:       r.fields["notes"],
		LinkedInURL: r.fields["linkedin_url"],
		Location:    r.fields["location"],
		Source:      r.fields["source"],
		Gender:      r.enums["gender"],
		JobStatus:   r.enums["job_status"],
	}
	if p.Source == "" {
		p.Source = "import"
	}
	if v := r.enums["status"]; v != nil {
		p.Status = *v
	}
	if v := r.enums["priority"]; v != nil {
		p.Priority = *v
	}
	if len(r.custom) > 0 {
		p.CustomFields = datatypes.JSONMap(r.custom)
	}
	return p
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
