package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/inbox"
	"alertbot/internal/jobs"
	"alertbot/internal/storage"
	"alertbot/internal/subscriptions"
	logx "alertbot/pkg/logx"
)

const token = "s3cret"

type fakeBroadcaster struct {
	err     error
	partial bool
	ctxErr  error
	reqs    []broadcast.Request
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, req broadcast.Request) (broadcast.Result, error) {
	f.reqs = append(f.reqs, req)
	f.ctxErr = ctx.Err()
	if f.err != nil {
		if f.partial {
			return broadcast.Result{AlertID: "a1", Sent: 2}, f.err
		}
		return broadcast.Result{}, f.err
	}
	return broadcast.Result{AlertID: "a1", Sent: 3, Failed: 1, Blocked: 1}, nil
}

func (f *fakeBroadcaster) Stats(context.Context) ([]broadcast.WeekStats, error) {
	return []broadcast.WeekStats{{Week: "2026-W10", Broadcasts: 1, Sent: map[alerts.Kind]int{alerts.KindNews: 3}}}, nil
}

type fakeReminders struct{ calls []string }

func (f *fakeReminders) Schedule(_ int64, alertID string, delay time.Duration) {
	f.calls = append(f.calls, alertID+"@"+delay.String())
}

func (f *fakeReminders) ScheduleDefault(userID int64, alertID string) time.Duration {
	f.Schedule(userID, alertID, 3*time.Hour)
	return 3 * time.Hour
}

type fixture struct {
	h      http.Handler
	srv    *Server
	st     *storage.Memory
	alerts *alerts.Store
	inbox  *inbox.Tracker
	bc     *fakeBroadcaster
	rem    *fakeReminders
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &fixture{st: storage.NewMemory(), bc: &fakeBroadcaster{}, rem: &fakeReminders{}}
	f.alerts = alerts.NewStore(f.st, alerts.Options{DefaultLocale: "en", Now: clock})
	f.inbox = inbox.New(f.st, f.alerts, inbox.Options{Now: clock})
	subs := subscriptions.New(f.st, subscriptions.Options{Now: clock})
	sched := jobs.New(jobs.Config{}, jobs.Deps{Store: f.st, Broadcaster: f.bc, Now: clock})

	srv, err := New(Config{Token: token}, Deps{
		Alerts:        f.alerts,
		Broadcaster:   f.bc,
		Scheduler:     sched,
		Inbox:         f.inbox,
		Subscriptions: subs,
		Reminders:     f.rem,
		Log:           logx.Nop(),
		Now:           clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv, f.h = srv, srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func errCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	c, _ := e["code"].(string)
	return c
}

func TestHealthAndAuth(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}

	f.srv.SetToken("")
	rec, _ = f.do(t, http.MethodGet, "/api/v1/alerts", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured token = %d, want 503", rec.Code)
	}
}

func TestPublishAndRead(t *testing.T) {
	f := newFixture(t)

	rec, out := f.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{
		"kind": "news",
		"body": map[string]string{"en": "Hello", "ar": "مرحبا"},
		"ttl":  "2d",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish = %d %s", rec.Code, rec.Body)
	}
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("no id in %v", out)
	}

	rec, out = f.do(t, http.MethodGet, "/api/v1/alerts/"+id, nil)
	if rec.Code != http.StatusOK || out["kind"] != "news" {
		t.Fatalf("get = %d %v", rec.Code, out)
	}
	a, _ := f.alerts.Get(context.Background(), id)
	if a.ExpiresAt == nil || !a.ExpiresAt.Equal(a.CreatedAt.Add(48*time.Hour)) {
		t.Fatalf("ttl not applied: %+v", a.ExpiresAt)
	}

	rec, out = f.do(t, http.MethodGet, "/api/v1/alerts?locale=ar", nil)
	list, _ := out["alerts"].([]any)
	if rec.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list = %d %v", rec.Code, out)
	}
	if text := list[0].(map[string]any)["text"]; text != "مرحبا" {
		t.Fatalf("text = %v", text)
	}

	rec, out = f.do(t, http.MethodGet, "/api/v1/alerts/nope", nil)
	if rec.Code != http.StatusNotFound || errCode(out) != "NOT_FOUND" {
		t.Fatalf("missing = %d %v", rec.Code, out)
	}
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"bad kind", map[string]any{"kind": "spam", "body": map[string]string{"en": "x"}}, "kind"},
		{"no body", map[string]any{"kind": "news"}, "body"},
		{"bad ttl", map[string]any{"kind": "news", "body": map[string]string{"en": "x"}, "ttl": "soon"}, "ttl"},
		{"unknown field", map[string]any{"kind": "news", "body": map[string]string{"en": "x"}, "extra": 1}, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := f.do(t, http.MethodPost, "/api/v1/alerts", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body)
			}
			fields, _ := out["error"].(map[string]any)["fields"].(map[string]any)
			if _, ok := fields[tt.field]; !ok {
				t.Fatalf("fields = %v, want %q", fields, tt.field)
			}
		})
	}
}

func TestBroadcastStatuses(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"kind": "promo", "body": map[string]string{"en": "x"}, "broadcast": true, "mode": "push"}

	rec, out := f.do(t, http.MethodPost, "/api/v1/alerts", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("broadcast = %d %s", rec.Code, rec.Body)
	}
	res, _ := out["result"].(map[string]any)
	if res["sent"] != float64(3) || res["blocked"] != float64(1) {
		t.Fatalf("result = %v", res)
	}
	if got := f.bc.reqs[0]; got.Mode != broadcast.ModePush || got.Source != "http" {
		t.Fatalf("request = %+v", got)
	}

	for _, tc := range []struct {
		err  error
		code string
	}{
		{broadcast.ErrQuietHours, "QUIET_HOURS"},
		{broadcast.ErrWeeklyCap, "WEEKLY_CAP"},
		{broadcast.ErrDisabled, "DISABLED"},
	} {
		f.bc.err = tc.err
		rec, out := f.do(t, http.MethodPost, "/api/v1/alerts", body)
		if rec.Code != http.StatusConflict || errCode(out) != tc.code {
			t.Fatalf("%v: status = %d code = %s", tc.err, rec.Code, errCode(out))
		}
	}
}

func TestJobsLifecycle(t *testing.T) {
	f := newFixture(t)
	job := map[string]any{"due": "10m", "kind": "promo", "body": map[string]string{"ar": "عرض"}}

	rec, out := f.do(t, http.MethodPost, "/api/v1/jobs", job)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue = %d %s", rec.Code, rec.Body)
	}
	id, _ := out["id"].(string)
	if out["due_at"] != "2026-03-04T12:10:00Z" {
		t.Fatalf("due_at = %v", out["due_at"])
	}

	_, out = f.do(t, http.MethodGet, "/api/v1/jobs", nil)
	if list, _ := out["jobs"].([]any); len(list) != 1 {
		t.Fatalf("jobs = %v", out)
	}

	if rec, _ := f.do(t, http.MethodDelete, "/api/v1/jobs/"+id, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("cancel = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodDelete, "/api/v1/jobs/"+id, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("cancel twice = %d, want 404", rec.Code)
	}

	f.do(t, http.MethodPost, "/api/v1/jobs", job)
	f.do(t, http.MethodPost, "/api/v1/jobs", job)
	_, out = f.do(t, http.MethodDelete, "/api/v1/jobs", nil)
	if out["cancelled"] != float64(2) {
		t.Fatalf("cancel all = %v", out)
	}

	job["due"] = "whenever"
	rec, out = f.do(t, http.MethodPost, "/api/v1/jobs", job)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "due") {
		t.Fatalf("bad due = %d %v", rec.Code, out)
	}
}

func TestUserEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.alerts.Publish(ctx, alerts.KindEvent, map[string]string{"en": "Meetup"}, 0)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_, out := f.do(t, http.MethodGet, "/api/v1/users/7/inbox", nil)
	if list, _ := out["alerts"].([]any); len(list) != 1 {
		t.Fatalf("inbox = %v", out)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/users/7/alerts/"+id+"/seen", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("seen = %d", rec.Code)
	}
	_, out = f.do(t, http.MethodGet, "/api/v1/users/7/inbox", nil)
	if e := out["alerts"].([]any)[0].(map[string]any); e["seen"] != true {
		t.Fatalf("entry = %v", e)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/users/7/alerts/"+id+"/delete", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	_, out = f.do(t, http.MethodGet, "/api/v1/users/7/inbox", nil)
	if list, _ := out["alerts"].([]any); len(list) != 0 {
		t.Fatalf("inbox after delete = %v", out)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/users/7/alerts/"+id+"/archive", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad action = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/v1/users/abc/inbox", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad user id = %d", rec.Code)
	}

	rec, out := f.do(t, http.MethodPost, "/api/v1/users/7/reminders", map[string]any{"alert_id": id, "delay": "90m"})
	if rec.Code != http.StatusAccepted || out["delay"] != "1h30m0s" || len(f.rem.calls) != 1 {
		t.Fatalf("reminder = %d %v %v", rec.Code, out, f.rem.calls)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/users/7/reminders", map[string]any{"alert_id": "gone"}); rec.Code != http.StatusNotFound {
		t.Fatalf("reminder for missing alert = %d", rec.Code)
	}

	rec, out = f.do(t, http.MethodPut, "/api/v1/users/7/subscription", map[string]any{"subscribed": false})
	if rec.Code != http.StatusOK || out["subscribed"] != false {
		t.Fatalf("unsubscribe = %d %v", rec.Code, out)
	}
	_, out = f.do(t, http.MethodGet, "/api/v1/users/7/subscription", nil)
	if out["subscribed"] != false {
		t.Fatalf("subscription = %v", out)
	}
	if rec, _ := f.do(t, http.MethodPut, "/api/v1/users/7/subscription", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing subscribed = %d", rec.Code)
	}
}

func TestStatsAndPersistenceFailure(t *testing.T) {
	f := newFixture(t)

	_, out := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	if weeks, _ := out["weeks"].([]any); len(weeks) != 1 {
		t.Fatalf("stats = %v", out)
	}

	f.st.FailWith(errors.New("disk full"))
	rec, out := f.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{"kind": "news", "body": map[string]string{"en": "x"}})
	if rec.Code != http.StatusServiceUnavailable || errCode(out) != "UNAVAILABLE" {
		t.Fatalf("persistence failure = %d %v", rec.Code, out)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]time.Duration{"": 0, "90m": 90 * time.Minute, "7d": 7 * 24 * time.Hour} {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseDuration("xd"); err == nil {
		t.Fatalf("expected error for xd")
	}
}

func TestPprofRequiresToken(t *testing.T) {
	t.Parallel()
	srv, err := New(Config{Token: token, Pprof: true}, Deps{Log: logx.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token = %d, want 200", rec.Code)
	}

	off, _ := New(Config{Token: token}, Deps{Log: logx.Nop()})
	rec = httptest.NewRecorder()
	off.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d, want 404", rec.Code)
	}
}

func TestBroadcastOutlivesRequest(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"kind": "news", "body": map[string]string{"en": "x"}, "broadcast": true}
	b, _ := json.Marshal(body)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(b)).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
	if f.bc.ctxErr != nil {
		t.Fatalf("broadcast saw canceled context: %v", f.bc.ctxErr)
	}

	f.bc.err, f.bc.partial = storage.ErrPersistence, true
	rec, out := f.do(t, http.MethodPost, "/api/v1/alerts", body)
	if rec.Code == http.StatusCreated || errCode(out) != "UNAVAILABLE" {
		t.Fatalf("partial broadcast = %d %v, want error", rec.Code, out)
	}
}
