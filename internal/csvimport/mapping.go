package csvimport

import (
	"strings"
	"unicode/utf8"
)

// fieldFullName is a virtual column that is split into first and last name.
const fieldFullName = "full_name"

var aliases = map[string][]string{
	"first_name":   {"first name", "firstname", "first", "given name", "givenname", "forename"},
	"last_name":    {"last name", "lastname", "last", "surname", "family name", "familyname"},
	fieldFullName:  {"name", "full name", "fullname", "contact name", "contact"},
	"email":        {"email", "e mail", "email address", "mail", "primary email"},
	"phone":        {"phone", "phone number", "mobile", "mobile phone", "telephone", "cell"},
	"company":      {"company", "organization", "organisation", "employer", "company name"},
	"job_title":    {"job title", "jobtitle", "title", "position", "role"},
	"status":       {"status", "contact status"},
	"priority":     {"priority"},
	"gender":       {"gender", "sex"},
	"job_status":   {"job status", "jobstatus", "employment status"},
	"categories":   {"categories", "category"},
	"tags":         {"tags", "tag", "labels"},
	"notes":        {"notes", "note", "comments", "description"},
	"linkedin_url": {"linkedin", "linkedin url", "linkedin profile"},
	"location":     {"location", "city", "address"},
	"source":       {"source", "lead source"},
}

var aliasIndex = func() map[string]string {
	idx := make(map[string]string)
	for field, names := range aliases {
		idx[normalizeHeader(field)] = field
		for _, n := range names {
			idx[n] = field
		}
	}
	return idx
}()

var titleTokens = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true, "miss": true, "sir": true,
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// mapHeader resolves a column header to a person field. Unknown headers map
// to themselves and land in custom_fields.
func mapHeader(h string) (string, bool) {
	field, ok := aliasIndex[normalizeHeader(h)]
	if ok {
		return field, true
	}
	return strings.TrimSpace(h), false
}

// splitName splits a full name into first and last name. Leading honorifics
// stay with the first name.
func splitName(full string) (first, last string) {
	tokens := strings.Fields(full)
	titles := 0
	for titles < len(tokens) && isTitle(tokens[titles]) {
		titles++
	}
	if len(tokens)-titles <= 1 {
		return strings.Join(tokens, " "), ""
	}
	return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1]
}

func isTitle(token string) bool {
	return titleTokens[strings.TrimSuffix(strings.ToLower(token), ".")]
}

func truncate(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]), true
}

// enumValue normalises free text like "Self Employed" to "self_employed".
func enumValue(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' || r == '_' }), "_")
}
