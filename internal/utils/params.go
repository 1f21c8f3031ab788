// Package utils provides small, generic helper functions used by the HTTP
// layer and the CLI: integer query parsing and civil date parsing.
package utils

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the only accepted date format (ISO 8601 calendar date).
const DateLayout = "2006-01-02"

// ErrBadDate is returned for dates that are not YYYY-MM-DD.
var ErrBadDate = errors.New("date must be YYYY-MM-DD")

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParseDate parses a YYYY-MM-DD string into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrBadDate
	}
	return t, nil
}

// ParseDateRange parses an inclusive from/to pair and returns the half-open
// bounds [from, to+1day). Both values are required and to must not precede
// from.
func ParseDateRange(from, to string) (time.Time, time.Time, error) {
	f, err := ParseDate(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := ParseDate(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, errors.New("to must not be before from")
	}
	return f, t.AddDate(0, 0, 1), nil
}
