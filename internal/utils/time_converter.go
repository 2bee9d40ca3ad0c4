package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var agoRegex = regexp.MustCompile(`^(\d+)\s+([a-z]+)\s+ago$`)

// ParseRelativeTime resolves expressions like "2 days ago", "last week",
// "today" or "yesterday" against now. Months count as 30 days. "today" and
// "yesterday" mean midnight in now's location.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))

	switch s {
	case "today", "heute":
		return startOfDay(now), nil
	case "yesterday", "gestern":
		return startOfDay(now.AddDate(0, 0, -1)), nil
	}

	if m := agoRegex.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid number in time string %q: %w", s, err)
		}
		unit, err := unitDuration(m[2])
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(-time.Duration(n) * unit), nil
	}

	if strings.HasPrefix(s, "last ") {
		unit, err := unitDuration(strings.TrimPrefix(s, "last "))
		if err != nil || unit == time.Hour {
			return time.Time{}, fmt.Errorf("unknown time period in %q", s)
		}
		return now.Add(-unit), nil
	}

	return time.Time{}, fmt.Errorf("cannot parse time string %q", s)
}

func unitDuration(unit string) (time.Duration, error) {
	switch strings.TrimSuffix(unit, "s") {
	case "hour":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	case "month":
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown time unit %q", unit)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseSince accepts either a relative expression or an absolute date
// (2006-01-02 or RFC 3339).
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	return ParseRelativeTime(s, now)
}
