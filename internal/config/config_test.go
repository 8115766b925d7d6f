package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "file-token", "owner_user_ids": [1, 2], "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true},
  "alerts": {"enabled": true, "rate_limit": 20, "quiet_hours": "22:00-07:00", "tz": "Asia/Riyadh"},
  "scheduler": {"enabled": true, "tick": "5s"},
  "reminders": {"delay": "3h", "after_broadcast": "1d"},
  "storage": {"driver": "sqlite", "path": "./alertbot.db"},
  "http": {"enabled": true, "addr": "127.0.0.1:8080", "token": "file-http"}
}`

const sampleYAML = `
telegram:
  token: file-token
  owner_user_ids: [1, 2]
  poll_timeout: 10s
logging:
  level: info
  console: true
alerts:
  enabled: true
  rate_limit: 20
  quiet_hours: "22:00-07:00"
  tz: Asia/Riyadh
scheduler:
  enabled: true
  tick: 5s
reminders:
  delay: 3h
  after_broadcast: 1d
storage:
  driver: sqlite
  path: ./alertbot.db
http:
  enabled: true
  addr: 127.0.0.1:8080
  token: file-http
`

func TestDecodeFormats(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		file string
		data string
	}{
		{"json", "config.json", sampleJSON},
		{"yaml", "config.yaml", sampleYAML},
		{"yml", "config.yml", sampleYAML},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tc.file, []byte(tc.data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if cfg.Telegram.Token != "file-token" || len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 2 {
				t.Fatalf("telegram = %+v", cfg.Telegram)
			}
			if !cfg.Alerts.Enabled || cfg.Alerts.RateLimit != 20 || cfg.Alerts.QuietHours != "22:00-07:00" {
				t.Fatalf("alerts = %+v", cfg.Alerts)
			}
			if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
				t.Fatalf("storage = %+v", cfg.Storage)
			}
			if cfg.Reminders.AfterBroadcast != "1d" || !cfg.HTTP.Enabled {
				t.Fatalf("reminders = %+v http = %+v", cfg.Reminders, cfg.HTTP)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		file string
		data string
		want string
	}{
		{"unknown key", "c.json", `{"alerts": {"enabled": true, "rate": 3}}`, "unknown field"},
		{"removed section", "c.json", `{"plugins": {}}`, "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"bad yaml", "c.yaml", "alerts: [", "yaml"},
		{"wrong type", "c.json", `{"alerts": {"rate_limit": "fast"}}`, "rate_limit"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.file, []byte(tc.data))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Decode err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	env := map[string]string{EnvTelegramToken: " env-token ", EnvHTTPToken: ""}
	ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("telegram token = %q", cfg.Telegram.Token)
	}
	if cfg.HTTP.Token != "file-http" {
		t.Fatalf("empty env value must not clear the http token, got %q", cfg.HTTP.Token)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"90s", 90 * time.Second, false},
		{"2d", 48 * time.Hour, false},
		{"0d", 0, false},
		{"-1s", 0, true},
		{"-2d", 0, true},
		{"1.5d", 0, true},
		{"soon", 0, true},
	} {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseDurationField("x", tc.raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}

	d, err := ParseDurationOrDefault("x", "", 3*time.Hour)
	if err != nil || d != 3*time.Hour {
		t.Fatalf("ParseDurationOrDefault = %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, _ := Decode("c.json", []byte(sampleJSON))
	newCfg, _ := Decode("c.json", []byte(sampleJSON))

	if sections, _ := SummarizeConfigChange(oldCfg, newCfg); len(sections) != 0 {
		t.Fatalf("identical configs changed %v", sections)
	}

	newCfg.Alerts.MaxPerWeek = 3
	newCfg.HTTP.Token = "rotated"
	newCfg.Storage = &StorageConfig{Driver: "file"}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"alerts", "http", "storage"}
	if strings.Join(sections, ",") != strings.Join(want, ",") {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || m.Path() != path {
		t.Fatal("Load must commit the parsed config")
	}

	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Alerts.RateLimit > 100 {
			return errors.New("rate_limit too high")
		}
		return nil
	})
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	rejected := strings.Replace(sampleJSON, `"rate_limit": 20`, `"rate_limit": 500`, 1)
	accepted := strings.Replace(sampleJSON, `"rate_limit": 20`, `"rate_limit": 30`, 1)

	// The watcher may start after the first write; keep rewriting until a
	// publish arrives.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	wroteRejected := false
	for {
		select {
		case got := <-sub:
			if got.Alerts.RateLimit != 30 {
				t.Fatalf("published rate_limit = %d, want 30", got.Alerts.RateLimit)
			}
			if m.Get().Alerts.RateLimit != 30 {
				t.Fatal("published config must be committed")
			}
			return
		case <-tick.C:
			data := accepted
			if !wroteRejected {
				data = rejected
				wroteRejected = true
			}
			if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}
