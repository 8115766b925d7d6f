package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertbot/internal/broadcast"
	"alertbot/internal/config"
	"alertbot/internal/httpapi"
	"alertbot/internal/i18n"
	"alertbot/internal/jobs"
	"alertbot/internal/reminders"
	"alertbot/internal/storage"
	telegram "alertbot/internal/transport/telegram/adapter"
	logx "alertbot/pkg/logx"
)

const (
	defaultStoragePath = "./data"
	defaultHTTPAddr    = "127.0.0.1:8080"
	defaultPollTimeout = 10 * time.Second
	defaultBusyTimeout = time.Second
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultStoragePath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = defaultStoragePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "redis":
		if sc.Redis == nil || len(sc.Redis.Addrs) == 0 {
			return storage.Config{}, errors.New("storage.redis.addrs is required when storage.driver=redis")
		}
		return storage.Config{Driver: "redis", Redis: storage.RedisConfig{
			Addrs:    append([]string(nil), sc.Redis.Addrs...),
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		}}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// groupLogChat parses telegram.group_log. Empty or invalid means no target.
func groupLogChat(cfg *config.Config) (int64, bool) {
	s := strings.TrimSpace(cfg.Telegram.GroupLog)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Alerts.TZ)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("alerts.tz: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	a := cfg.Alerts
	if a.RateLimit < 0 {
		return broadcast.Config{}, errors.New("alerts.rate_limit must be >= 0")
	}
	if a.MaxPerWeek < 0 {
		return broadcast.Config{}, errors.New("alerts.max_per_week must be >= 0")
	}
	if a.ActiveDays < 0 {
		return broadcast.Config{}, errors.New("alerts.active_days must be >= 0")
	}
	qh, err := broadcast.ParseQuietHours(a.QuietHours)
	if err != nil {
		return broadcast.Config{}, fmt.Errorf("alerts.%w", err)
	}
	mode, ok := broadcast.ParseMode(strings.ToLower(strings.TrimSpace(a.DeliveryMode)))
	if !ok {
		return broadcast.Config{}, fmt.Errorf("alerts.delivery_mode: unknown %q", a.DeliveryMode)
	}
	loc, err := mapLocation(cfg)
	if err != nil {
		return broadcast.Config{}, err
	}
	pingTTL, err := config.ParseDurationField("alerts.ping_ttl", a.PingTTL)
	if err != nil {
		return broadcast.Config{}, err
	}
	after, err := config.ParseDurationField("reminders.after_broadcast", cfg.Reminders.AfterBroadcast)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Enabled:       a.Enabled,
		RateLimit:     a.RateLimit,
		MaxPerWeek:    a.MaxPerWeek,
		QuietHours:    qh,
		Location:      loc,
		ActiveFor:     time.Duration(a.ActiveDays) * 24 * time.Hour,
		DefaultLocale: strings.ToLower(strings.TrimSpace(a.DefaultLocale)),
		Mode:          mode,
		PingTTL:       pingTTL,
		RemindAfter:   after,
	}, nil
}

func mapJobsConfig(cfg *config.Config) (jobs.Config, error) {
	loc, err := mapLocation(cfg)
	if err != nil {
		return jobs.Config{}, err
	}
	tick, err := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, jobs.DefaultTick)
	if err != nil {
		return jobs.Config{}, err
	}
	sweep, err := config.ParseDurationOrDefault("scheduler.sweep", cfg.Scheduler.Sweep, jobs.DefaultSweep)
	if err != nil {
		return jobs.Config{}, err
	}
	if tick < time.Second {
		return jobs.Config{}, errors.New("scheduler.tick must be >= 1s")
	}
	return jobs.Config{Enabled: cfg.Scheduler.Enabled, Tick: tick, Sweep: sweep, Location: loc}, nil
}

func mapRemindersConfig(cfg *config.Config) (reminders.Config, error) {
	delay, err := config.ParseDurationOrDefault("reminders.delay", cfg.Reminders.Delay, reminders.DefaultDelay)
	if err != nil {
		return reminders.Config{}, err
	}
	return reminders.Config{Delay: delay, RemindSeen: cfg.Reminders.RemindSeen}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	if h.RateLimit < 0 {
		return httpapi.Config{}, errors.New("http.rate_limit must be >= 0")
	}
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	return httpapi.Config{
		Enabled:     h.Enabled,
		Addr:        addr,
		Token:       h.Token,
		CORSOrigins: append([]string(nil), h.CORSOrigins...),
		RateLimit:   h.RateLimit,
		Pprof:       h.Pprof,
	}, nil
}

// validateConfig rejects a config any component would refuse. It runs on
// startup and before every hot reload is committed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapAdapterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	if _, err := mapJobsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRemindersConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := i18n.New(cfg.Alerts.DefaultLocale); err != nil {
		return fmt.Errorf("alerts.default_locale: %w", err)
	}
	return nil
}
