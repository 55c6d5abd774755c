package service

import (
	"strings"
	"time"

	"neonetworker/internal/domain"
)

// ChatDateLayout is the date format the assistant is prompted to emit.
const ChatDateLayout = "2006-01-02 15:04"

var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.RFC3339Nano,
	"2006-01-02",
}

// ParseDateTime accepts "2006-01-02 15:04" or ISO-8601. A trailing Z is
// stripped and the value is read as UTC. Failures are ValidationErrors for
// field.
func ParseDateTime(field, raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if t, err := time.Parse(ChatDateLayout, value); err == nil {
		return t.UTC(), nil
	}

	iso := strings.TrimSuffix(value, "Z")
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.Invalid(field, "invalid format: %s", raw)
}

// parseOptionalTime maps "" to nil.
func parseOptionalTime(field string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := ParseDateTime(field, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
