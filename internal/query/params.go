package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateOnly = "2006-01-02"

// ParseTime accepts an RFC 3339 timestamp or a YYYY-MM-DD date. A date-only
// value resolves to the start of that UTC day, or to its last instant when
// endOfDay is set, so that an end bound covers the whole day.
func ParseTime(raw string, endOfDay bool) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseInLocation(dateOnly, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp or YYYY-MM-DD date, got %q", raw)
	}
	if endOfDay {
		return d.Add(24*time.Hour - time.Nanosecond), nil
	}
	return d, nil
}

// ParseID parses an optional uuid parameter.
func ParseID(raw string) (*uuid.UUID, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q", raw)
	}
	return &id, nil
}

// Params are the raw, string-typed filter inputs of a list request.
type Params struct {
	Sender       string
	Conversation string
	StartDate    string
	EndDate      string
	Search       string
	Ordering     string
}

// FieldError names the parameter that failed to parse.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

// Build converts raw parameters into a Filter.
func (p Params) Build() (Filter, error) {
	var f Filter
	var err error
	if f.SenderID, err = ParseID(p.Sender); err != nil {
		return Filter{}, &FieldError{Field: "sender", Err: err}
	}
	if f.ConversationID, err = ParseID(p.Conversation); err != nil {
		return Filter{}, &FieldError{Field: "conversation", Err: err}
	}
	if strings.TrimSpace(p.StartDate) != "" {
		t, err := ParseTime(p.StartDate, false)
		if err != nil {
			return Filter{}, &FieldError{Field: "start_date", Err: err}
		}
		f.StartTime = &t
	}
	if strings.TrimSpace(p.EndDate) != "" {
		t, err := ParseTime(p.EndDate, true)
		if err != nil {
			return Filter{}, &FieldError{Field: "end_date", Err: err}
		}
		f.EndTime = &t
	}
	if f.Ordering, err = ParseOrdering(p.Ordering); err != nil {
		return Filter{}, &FieldError{Field: "ordering", Err: err}
	}
	f.Search = strings.TrimSpace(p.Search)
	return f, nil
}
