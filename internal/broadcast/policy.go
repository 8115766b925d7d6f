package broadcast

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietHours is a daily window, in minutes since midnight, during which
// broadcasts are refused. End may be before Start to wrap midnight.
type QuietHours struct {
	Start int
	End   int
	set   bool
}

// ParseQuietHours parses "HH:MM-HH:MM". An empty string disables the window.
func ParseQuietHours(s string) (QuietHours, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return QuietHours{}, nil
	}
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return QuietHours{}, fmt.Errorf("quiet_hours %q: expected HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet_hours %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet_hours %q: %w", s, err)
	}
	if start == end {
		return QuietHours{}, fmt.Errorf("quiet_hours %q: empty window", s)
	}
	return QuietHours{Start: start, End: end, set: true}, nil
}

func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad time %q", s)
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return hh*60 + mm, nil
}

func (q QuietHours) Enabled() bool { return q.set }

// Contains reports whether t (already in the policy timezone) is inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.set {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if q.Start < q.End {
		return m >= q.Start && m < q.End
	}
	return m >= q.Start || m < q.End
}

// Next returns the first instant at or after t that lies outside the window.
func (q QuietHours) Next(t time.Time) time.Time {
	if !q.Contains(t) {
		return t
	}
	end := time.Date(t.Year(), t.Month(), t.Day(), q.End/60, q.End%60, 0, 0, t.Location())
	if !end.After(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func (q QuietHours) String() string {
	if !q.set {
		return ""
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", q.Start/60, q.Start%60, q.End/60, q.End%60)
}

// WeekKey is the ISO week of t: "2026-W09".
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// Policy is the parsed delivery policy. It is exposed for callers that want
// to check it before calling Broadcast.
type Policy struct {
	Enabled    bool          `json:"enabled"`
	RateLimit  int           `json:"rate_limit"`
	MaxPerWeek int           `json:"max_per_week"`
	QuietHours string        `json:"quiet_hours,omitempty"`
	Timezone   string        `json:"tz"`
	ActiveFor  time.Duration `json:"active_for"`
	Mode       Mode          `json:"delivery_mode"`
	PingTTL    time.Duration `json:"ping_ttl"`
}
