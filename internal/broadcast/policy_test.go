package broadcast

import (
	"testing"
	"time"
)

func TestQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 1, 5, h, m, 0, 0, time.UTC) }
	cases := []struct {
		spec string
		t    time.Time
		want bool
	}{
		{"22:00-07:00", at(23, 30), true},
		{"22:00-07:00", at(6, 59), true},
		{"22:00-07:00", at(7, 0), false},
		{"22:00-07:00", at(12, 0), false},
		{"09:00-17:30", at(17, 29), true},
		{"09:00-17:30", at(8, 59), false},
		{"", at(3, 0), false},
	}
	for _, tc := range cases {
		q, err := ParseQuietHours(tc.spec)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.spec, err)
		}
		if got := q.Contains(tc.t); got != tc.want {
			t.Fatalf("%q contains %s = %v, want %v", tc.spec, tc.t.Format("15:04"), got, tc.want)
		}
	}
}

func TestQuietHoursNext(t *testing.T) {
	q, _ := ParseQuietHours("22:00-07:00")
	got := q.Next(time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC))
	if want := time.Date(2026, 1, 6, 7, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got, want)
	}
	outside := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	if !q.Next(outside).Equal(outside) {
		t.Fatalf("Next outside the window must be identity")
	}
}

func TestParseQuietHoursErrors(t *testing.T) {
	for _, s := range []string{"22:00", "25:00-07:00", "10:00-10:00", "aa:bb-cc:dd"} {
		if _, err := ParseQuietHours(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestWeekKey(t *testing.T) {
	if got := WeekKey(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)); got != "2026-W53" {
		t.Fatalf("WeekKey = %q", got)
	}
	if got := WeekKey(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)); got != "2026-W10" {
		t.Fatalf("WeekKey = %q", got)
	}
}
