package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Student is one roster entry: an identifier plus the submitted URL.
type Student struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Roster is the parsed student map. Limit, when present, is the submission
// cutoff timestamp normalized to UTC; whether it is honored is a run-level
// decision, not a roster one.
type Roster struct {
	Students []Student
	Limit    *time.Time
}

var errInvalidRoster = errors.New("invalid roster JSON: expected a list of students or an object with a \"students\" list")

// rosterObject is the object form of the roster file.
type rosterObject struct {
	Limit    string    `json:"limit"`
	Students []Student `json:"students"`
}

// ParseRoster reads a roster document in either of its two supported
// shapes: a plain JSON list of {id, url}, or an object holding a "students"
// list and an optional ISO 8601 "limit" cutoff.
func ParseRoster(data []byte) (*Roster, error) {
	var students []Student
	if err := json.Unmarshal(data, &students); err == nil {
		return &Roster{Students: students}, nil
	}

	var obj rosterObject
	if err := json.Unmarshal(data, &obj); err != nil || obj.Students == nil {
		return nil, errInvalidRoster
	}

	roster := &Roster{Students: obj.Students}
	if obj.Limit != "" {
		limit, err := ParseCutoff(obj.Limit)
		if err != nil {
			return nil, err
		}
		roster.Limit = &limit
	}
	return roster, nil
}

// ParseCutoff parses an ISO 8601 timestamp (with "Z" or a numeric offset)
// into a UTC instant.
func ParseCutoff(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid cutoff timestamp %q", s)
}
