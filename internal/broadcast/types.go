package broadcast

import (
	"context"
	"errors"
	"time"

	"alertbot/internal/alerts"
)

var (
	ErrDisabled   = errors.New("broadcasts disabled")
	ErrQuietHours = errors.New("inside quiet hours")
	ErrWeeklyCap  = errors.New("weekly broadcast limit reached")
)

// Mode selects what recipients receive.
type Mode string

const (
	// ModeInbox sends a short notice with buttons; the body is read from the inbox.
	ModeInbox Mode = "inbox"
	// ModePush sends the body text itself.
	ModePush Mode = "push"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "":
		return "", true
	case ModeInbox, ModePush:
		return Mode(s), true
	}
	return "", false
}

const (
	DefaultRateLimit = 10
	DefaultActiveFor = 7 * 24 * time.Hour
)

type Config struct {
	Enabled       bool
	RateLimit     int // messages per second
	MaxPerWeek    int // broadcasts per ISO week, 0 = unlimited
	QuietHours    QuietHours
	Location      *time.Location
	ActiveFor     time.Duration
	DefaultLocale string
	Mode          Mode
	PingTTL       time.Duration
	// RemindAfter schedules a follow-up reminder for every inbox-mode
	// recipient. 0 disables it.
	RemindAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.ActiveFor <= 0 {
		c.ActiveFor = DefaultActiveFor
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Mode == "" {
		c.Mode = ModeInbox
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en"
	}
	return c
}

// Request describes one fan-out. Zero Mode, PingTTL and ActiveFor take the
// configured defaults; a negative PingTTL disables auto-delete.
type Request struct {
	Kind      alerts.Kind
	Body      map[string]string
	Mode      Mode
	PingTTL   time.Duration
	ActiveFor time.Duration
	// Force skips quiet hours and the weekly cap.
	Force bool

	ActorID int64
	Source  string
}

type Result struct {
	AlertID string `json:"alert_id,omitempty"`
	Sent    int    `json:"sent"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Blocked int    `json:"blocked"` // subset of Failed
}

// WeekStats is one ISO week of delivery counters.
type WeekStats struct {
	Week       string              `json:"week"`
	Sent       map[alerts.Kind]int `json:"sent"`
	Broadcasts int                 `json:"broadcasts"`
}

type AlertPublisher interface {
	Publish(ctx context.Context, kind alerts.Kind, body map[string]string, ttl time.Duration) (string, error)
}

type RecipientResolver interface {
	ResolveRecipients(ctx context.Context) ([]int64, error)
}

type LocaleResolver interface {
	LocaleFor(ctx context.Context, userID int64) string
}

type Translator interface {
	T(locale, key string, params ...string) string
	Kind(locale, kind string) string
}

type ReminderScheduler interface {
	Schedule(userID int64, alertID string, delay time.Duration)
}
