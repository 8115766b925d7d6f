package jobs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reClock = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseDue turns a human due-time into an absolute instant.
//
// Supported forms:
//   - relative duration: "10m", "in 2h30m", "+45s"
//   - RFC 3339: "2026-03-01T10:00:00+03:00"
//   - local date-time: "2026-03-01 10:00" (in loc)
//   - local clock: "18:30" (today in loc, or tomorrow if already past)
func ParseDue(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("due time required")
	}
	if loc == nil {
		loc = time.UTC
	}
	low := strings.ToLower(s)
	rel := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(low, "in "), "+"))
	if d, err := time.ParseDuration(rel); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("due duration must be > 0")
		}
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if m := reClock.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			return time.Time{}, fmt.Errorf("invalid clock time %q", s)
		}
		local := now.In(loc)
		t := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !t.After(local) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid due time %q (use '10m', '18:30', '2026-03-01 10:00' or RFC 3339)", raw)
}
