package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/config"
	"alertbot/internal/eventbus"
	"alertbot/internal/gateway/gatewaytest"
	"alertbot/internal/jobs"
	"alertbot/internal/storage"
	logx "alertbot/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram:  config.TelegramConfig{Token: "t"},
		Alerts:    config.AlertsConfig{Enabled: true, RateLimit: 100},
		Scheduler: config.SchedulerConfig{Enabled: true},
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name    string
		in      *config.StorageConfig
		want    storage.Config
		wantErr string
	}{
		{"omitted", nil, storage.Config{Driver: "file", Path: defaultStoragePath}, ""},
		{"file custom path", &config.StorageConfig{Driver: "FILE", Path: "/var/lib/alertbot"}, storage.Config{Driver: "file", Path: "/var/lib/alertbot"}, ""},
		{"sqlite", &config.StorageConfig{Driver: "sqlite3", Path: "a.db", BusyTimeout: "2s"}, storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: 2 * time.Second}, ""},
		{"sqlite default busy", &config.StorageConfig{Driver: "sqlite", Path: "a.db"}, storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: defaultBusyTimeout}, ""},
		{"sqlite without path", &config.StorageConfig{Driver: "sqlite"}, storage.Config{}, "storage.path"},
		{"redis without addrs", &config.StorageConfig{Driver: "redis"}, storage.Config{}, "storage.redis.addrs"},
		{"unknown", &config.StorageConfig{Driver: "etcd"}, storage.Config{}, "unknown storage.driver"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Storage = tc.in
			got, err := mapStorageConfig(cfg)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapStorageConfig: %v", err)
			}
			if got.Driver != tc.want.Driver || got.Path != tc.want.Path || got.BusyTimeout != tc.want.BusyTimeout {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}

	cfg := baseConfig()
	cfg.Storage = &config.StorageConfig{Driver: "redis", Redis: &config.RedisConfig{Addrs: []string{"127.0.0.1:6379"}, DB: 2, Prefix: "ab"}}
	got, err := mapStorageConfig(cfg)
	if err != nil || got.Driver != "redis" || got.Redis.DB != 2 || got.Redis.Prefix != "ab" || len(got.Redis.Addrs) != 1 {
		t.Fatalf("redis = %+v, %v", got, err)
	}
}

func TestMapBroadcastConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Alerts = config.AlertsConfig{
		Enabled:       true,
		RateLimit:     25,
		MaxPerWeek:    2,
		QuietHours:    "23:00-06:30",
		ActiveDays:    3,
		TZ:            "Asia/Riyadh",
		DefaultLocale: "AR",
		DeliveryMode:  "push",
		PingTTL:       "1d",
	}
	cfg.Reminders.AfterBroadcast = "6h"

	got, err := mapBroadcastConfig(cfg)
	if err != nil {
		t.Fatalf("mapBroadcastConfig: %v", err)
	}
	if !got.Enabled || got.RateLimit != 25 || got.MaxPerWeek != 2 {
		t.Fatalf("limits = %+v", got)
	}
	if got.QuietHours.Start != 23*60 || got.QuietHours.End != 6*60+30 {
		t.Fatalf("quiet hours = %+v", got.QuietHours)
	}
	if got.ActiveFor != 72*time.Hour || got.PingTTL != 24*time.Hour || got.RemindAfter != 6*time.Hour {
		t.Fatalf("durations = %v %v %v", got.ActiveFor, got.PingTTL, got.RemindAfter)
	}
	if got.Mode != broadcast.ModePush || got.DefaultLocale != "ar" || got.Location.String() != "Asia/Riyadh" {
		t.Fatalf("mode/locale/tz = %q %q %v", got.Mode, got.DefaultLocale, got.Location)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"quiet hours", func(c *config.Config) { c.Alerts.QuietHours = "25:00-01:00" }, "alerts.quiet_hours"},
		{"tz", func(c *config.Config) { c.Alerts.TZ = "Mars/Olympus" }, "alerts.tz"},
		{"mode", func(c *config.Config) { c.Alerts.DeliveryMode = "carrier-pigeon" }, "alerts.delivery_mode"},
		{"rate", func(c *config.Config) { c.Alerts.RateLimit = -1 }, "alerts.rate_limit"},
		{"ping ttl", func(c *config.Config) { c.Alerts.PingTTL = "soon" }, "alerts.ping_ttl"},
		{"tick", func(c *config.Config) { c.Scheduler.Tick = "100ms" }, "scheduler.tick"},
		{"reminder delay", func(c *config.Config) { c.Reminders.Delay = "-1h" }, "reminders.delay"},
		{"poll timeout", func(c *config.Config) { c.Telegram.PollTimeout = "x" }, "telegram.poll_timeout"},
		{"locale", func(c *config.Config) { c.Alerts.DefaultLocale = "xx" }, "alerts.default_locale"},
		{"http rate", func(c *config.Config) { c.HTTP.RateLimit = -5 }, "http.rate_limit"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := validateConfig(context.Background(), cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
	if err := validateConfig(context.Background(), baseConfig()); err != nil {
		t.Fatalf("base config rejected: %v", err)
	}
}

func TestMapHTTPConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.HTTP = config.HTTPConfig{Enabled: true, Token: "s", CORSOrigins: []string{"https://a.example"}}
	got, err := mapHTTPConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Addr != defaultHTTPAddr || got.Token != "s" || len(got.CORSOrigins) != 1 {
		t.Fatalf("got %+v", got)
	}
}

func newTestServices(t *testing.T, cfg *config.Config) (*Services, *storage.Memory, *gatewaytest.Recorder) {
	t.Helper()
	st := storage.NewMemory()
	gw := gatewaytest.New()
	s, err := buildOnStore(context.Background(), cfg, st, gw, logx.Nop())
	if err != nil {
		t.Fatalf("buildOnStore: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, st, gw
}

func TestServicesBroadcastAndScheduledJob(t *testing.T) {
	s, _, gw := newTestServices(t, baseConfig())
	ctx := context.Background()

	if _, err := s.Users.Touch(ctx, 10, "ar"); err != nil {
		t.Fatal(err)
	}
	if err := s.Subscriptions.Observe(ctx, 10); err != nil {
		t.Fatal(err)
	}

	res, err := s.Broadcast.Broadcast(ctx, broadcast.Request{
		Kind: alerts.KindNews,
		Body: map[string]string{"en": "hello", "ar": "مرحبا"},
	})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Sent != 1 || len(gw.Sent()) != 1 || gw.Sent()[0].UserID != 10 {
		t.Fatalf("result = %+v, sent = %+v", res, gw.Sent())
	}

	if _, err := s.Jobs.Enqueue(ctx, jobs.Spec{
		DueAt: time.Now().Add(-time.Second),
		Kind:  alerts.KindPromo,
		Body:  map[string]string{"en": "sale"},
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rep := s.Jobs.Tick(ctx)
	if rep.Fired != 1 {
		t.Fatalf("tick = %+v", rep)
	}
	if len(gw.Sent()) != 2 {
		t.Fatalf("sent %d messages, want 2", len(gw.Sent()))
	}
	list, err := s.Jobs.List(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("jobs left = %v, %v", list, err)
	}
}

func TestServicesSweepPrunesInbox(t *testing.T) {
	s, _, _ := newTestServices(t, baseConfig())
	ctx := context.Background()

	short, err := s.Alerts.Publish(ctx, alerts.KindEvent, map[string]string{"en": "flash"}, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	long, err := s.Alerts.Publish(ctx, alerts.KindNews, map[string]string{"en": "stays"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Inbox.MarkIgnored(ctx, 7, short); err != nil {
		t.Fatal(err)
	}
	if err := s.Inbox.MarkSeen(ctx, 7, long); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	s.Sweep(ctx)

	if _, err := s.Alerts.Get(ctx, short); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("expired alert Get err = %v", err)
	}
	st, err := s.Inbox.GetState(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.Ignored[short]; ok {
		t.Fatal("mark for swept alert survived")
	}
	if !st.IsSeen(long) {
		t.Fatal("mark for active alert was pruned")
	}
}

func TestServicesApply(t *testing.T) {
	s, _, _ := newTestServices(t, baseConfig())
	next := baseConfig()
	next.Scheduler.Tick = "30s"
	next.Alerts.TZ = "Europe/Berlin"
	if err := s.Apply(next); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := s.Jobs.Config(); got.Tick != 30*time.Second || got.Location.String() != "Europe/Berlin" {
		t.Fatalf("jobs config = %+v", got)
	}

	bad := baseConfig()
	bad.Alerts.QuietHours = "nope"
	if err := s.Apply(bad); err == nil {
		t.Fatal("invalid config applied")
	}
}

func TestAuditEntry(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		name  string
		in    eventbus.Event
		check func(t *testing.T, ae storage.AuditEntry)
	}{
		{"broadcast result", eventbus.Event{Type: eventbus.BroadcastFinished, Time: at, Source: "http", Target: "a1", Data: broadcast.Result{Sent: 5, Failed: 2, Blocked: 1}},
			func(t *testing.T, ae storage.AuditEntry) {
				if ae.OK != 5 || ae.Fail != 2 || ae.Source != "http" || !strings.Contains(ae.MetaJSON, `"blocked":1`) {
					t.Fatalf("entry = %+v", ae)
				}
			}},
		{"refused", eventbus.Event{Type: eventbus.BroadcastRefused, Time: at, Data: "inside quiet hours"},
			func(t *testing.T, ae storage.AuditEntry) {
				if ae.Error != "inside quiet hours" || ae.Source != "app" {
					t.Fatalf("entry = %+v", ae)
				}
			}},
		{"map data", eventbus.Event{Type: eventbus.JobScheduled, Time: at, ActorID: 9, Data: map[string]any{"kind": "news"}},
			func(t *testing.T, ae storage.AuditEntry) {
				if ae.ActorID != 9 || ae.MetaJSON != `{"kind":"news"}` || !ae.At.Equal(at) {
					t.Fatalf("entry = %+v", ae)
				}
			}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, auditEntry(tc.in))
		})
	}
}

func TestRunAuditPersistsSelectedEvents(t *testing.T) {
	bus := eventbus.New()
	st := storage.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runAudit(ctx, bus, st, logx.Nop())
	}()
	defer func() {
		cancel()
		<-done
	}()

	// The subscription is registered inside runAudit; publish until it lands.
	deadline := time.Now().Add(3 * time.Second)
	for len(st.Audit()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no audit entry written")
		}
		bus.Publish(eventbus.Event{Type: eventbus.InboxChanged, Target: "ignored"})
		bus.Publish(eventbus.Event{Type: eventbus.JobCancelled, Target: "j1"})
		time.Sleep(20 * time.Millisecond)
	}
	for _, ae := range st.Audit() {
		if ae.Action != eventbus.JobCancelled {
			t.Fatalf("unexpected audited action %q", ae.Action)
		}
	}
}
