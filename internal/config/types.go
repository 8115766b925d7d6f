package config

// Config is the on-disk configuration. JSON and YAML share these keys.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m") or a
// whole number of days ("2d").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Alerts    AlertsConfig    `json:"alerts"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Reminders RemindersConfig `json:"reminders"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	HTTP      HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// AlertsConfig controls publishing and fan-out.
//
// Defaults (when fields are omitted/zero):
//   - rate_limit: 10 messages per second
//   - max_per_week: 0 (unlimited)
//   - quiet_hours: "" (none), otherwise "HH:MM-HH:MM", may wrap midnight
//   - active_days: 7 (alert lifetime when a request sets none)
//   - tz: "UTC"
//   - default_locale: "en"
//   - delivery_mode: "inbox" ("push" sends the text itself)
//   - ping_ttl: "" (notices are never auto-deleted)
type AlertsConfig struct {
	Enabled       bool   `json:"enabled"`
	RateLimit     int    `json:"rate_limit,omitempty"`
	MaxPerWeek    int    `json:"max_per_week,omitempty"`
	QuietHours    string `json:"quiet_hours,omitempty"`
	ActiveDays    int    `json:"active_days,omitempty"`
	TZ            string `json:"tz,omitempty"`
	DefaultLocale string `json:"default_locale,omitempty"`
	DeliveryMode  string `json:"delivery_mode,omitempty"`
	PingTTL       string `json:"ping_ttl,omitempty"`
}

// SchedulerConfig controls the deferred broadcast queue.
// The timezone is alerts.tz.
type SchedulerConfig struct {
	Enabled bool   `json:"enabled"`
	Tick    string `json:"tick,omitempty"`  // default "5s"
	Sweep   string `json:"sweep,omitempty"` // default "1h"
}

type RemindersConfig struct {
	// Delay is the "remind me later" delay. Default "3h".
	Delay string `json:"delay,omitempty"`
	// RemindSeen keeps reminding users who opened the alert but did not
	// ignore or delete it.
	RemindSeen bool `json:"remind_seen,omitempty"`
	// AfterBroadcast schedules a reminder for every inbox-mode recipient.
	// Empty or "0s" disables it.
	AfterBroadcast string `json:"after_broadcast,omitempty"`
}

// StorageConfig controls persistence. Omitting the section selects the
// file driver under ./data.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./alertbot.db" }
type StorageConfig struct {
	Driver      string       `json:"driver"`
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // sqlite
	Redis       *RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addrs    []string `json:"addrs"`
	Password string   `json:"password,omitempty"`
	DB       int      `json:"db,omitempty"`
	Prefix   string   `json:"prefix,omitempty"`
}

// HTTPConfig controls the admin API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - Every /api route requires "Authorization: Bearer <token>". An empty
//     token refuses all API calls.
type HTTPConfig struct {
	Enabled     bool     `json:"enabled"`
	Addr        string   `json:"addr,omitempty"`  // default "127.0.0.1:8080"
	Token       string   `json:"token,omitempty"` // do not log
	CORSOrigins []string `json:"cors_origins,omitempty"`
	// RateLimit is requests per minute per client IP. 0 disables it.
	RateLimit int `json:"rate_limit,omitempty"`
	// Pprof exposes /debug/pprof/ on the same listener, behind the token.
	Pprof bool `json:"pprof,omitempty"`
}
