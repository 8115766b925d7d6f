package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/i18n"
	"alertbot/internal/inbox"
	"alertbot/internal/jobs"
	"alertbot/internal/storage"
	"alertbot/internal/subscriptions"
	kit "alertbot/internal/transport"
	"alertbot/internal/transport/telegram/router"
	"alertbot/internal/transport/transporttest"
	"alertbot/internal/users"
	logx "alertbot/pkg/logx"
)

type laterLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *laterLog) ScheduleDefault(userID int64, alertID string) time.Duration {
	l.mu.Lock()
	l.calls = append(l.calls, alertID)
	l.mu.Unlock()
	return time.Hour
}

type fixture struct {
	r      *router.Router
	ad     *transporttest.Adapter
	st     *storage.Memory
	alerts *alerts.Store
	inbox  *inbox.Tracker
	subs   *subscriptions.Registry
	later  *laterLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tr, err := i18n.New("en")
	if err != nil {
		t.Fatalf("i18n: %v", err)
	}
	f := &fixture{ad: transporttest.New(), st: storage.NewMemory(), later: &laterLog{}}
	us := users.New(f.st, clock, logx.Nop())
	f.alerts = alerts.NewStore(f.st, alerts.Options{DefaultLocale: "en", Now: clock})
	f.inbox = inbox.New(f.st, f.alerts, inbox.Options{Now: clock})
	f.subs = subscriptions.New(f.st, subscriptions.Options{Known: us, Now: clock})

	b := New(Deps{
		Users:         us,
		Subscriptions: f.subs,
		Alerts:        f.alerts,
		Inbox:         f.inbox,
		Reminders:     f.later,
		Stats:         statsStub{},
		Jobs:          jobsStub{},
		Translator:    tr,
	})
	f.r = router.New(logx.Nop(), f.ad, []int64{99})
	b.Register(context.Background(), f.r)
	return f
}

func (f *fixture) send(from int64, lang, text string) {
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: from, FromID: from, LanguageCode: lang, Text: text, IsPrivate: true,
	}})
}

func (f *fixture) press(from int64, data string) {
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb", FromID: from, ChatID: from, MessageID: 42, Data: data,
	}})
}

func (f *fixture) lastSent(t *testing.T) transporttest.Message {
	t.Helper()
	sent := f.ad.Sent()
	if len(sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return sent[len(sent)-1]
}

func (f *fixture) lastToast(t *testing.T) string {
	t.Helper()
	a := f.ad.Answers()
	if len(a) == 0 {
		t.Fatalf("callback not answered")
	}
	return a[len(a)-1].Text
}

type statsStub struct{}

func (statsStub) Stats(context.Context) ([]broadcast.WeekStats, error) {
	return []broadcast.WeekStats{{Week: "2026-W10", Broadcasts: 2, Sent: map[alerts.Kind]int{alerts.KindPromo: 3, alerts.KindNews: 1}}}, nil
}

type jobsStub struct{}

func (jobsStub) List(context.Context) ([]jobs.Job, error) { return nil, nil }

func TestStartSubscribesAndWelcomesInLocale(t *testing.T) {
	f := newFixture(t)
	f.send(7, "ar-SA", "/start")

	if got := f.lastSent(t).Text; !strings.Contains(got, "أهلاً") {
		t.Fatalf("welcome = %q, want arabic", got)
	}
	on, err := f.subs.IsSubscribed(context.Background(), 7)
	if err != nil || !on {
		t.Fatalf("IsSubscribed = %v, %v", on, err)
	}
	ids, _ := f.subs.ResolveRecipients(context.Background())
	if len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("recipients = %v, want [7]", ids)
	}
}

func TestUnsubscribeRemovesRecipient(t *testing.T) {
	f := newFixture(t)
	f.send(7, "en", "/start")
	f.send(7, "en", "/unsubscribe")

	if got := f.lastSent(t).Text; !strings.Contains(got, "no longer") {
		t.Fatalf("reply = %q", got)
	}
	ids, _ := f.subs.ResolveRecipients(context.Background())
	if len(ids) != 0 {
		t.Fatalf("recipients = %v, want none", ids)
	}
	f.send(7, "en", "/subscribe")
	ids, _ = f.subs.ResolveRecipients(context.Background())
	if len(ids) != 1 {
		t.Fatalf("recipients after resubscribe = %v", ids)
	}
}

func TestInboxAndAlertButtons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(7, "en", "/inbox")
	if got := f.lastSent(t).Text; got != "Your inbox is empty." {
		t.Fatalf("empty inbox = %q", got)
	}

	id, err := f.alerts.Publish(ctx, alerts.KindPromo, map[string]string{"en": "Big sale today", "ar": "تخفيضات"}, 0)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	f.send(7, "en", "/inbox")
	m := f.lastSent(t)
	if m.Text != "📥 Inbox (1)" || len(m.Opts.Keyboard) != 1 {
		t.Fatalf("inbox = %q rows=%d", m.Text, len(m.Opts.Keyboard))
	}
	btn := m.Opts.Keyboard[0][0]
	if btn.Data != "alert:open:"+id || !strings.HasPrefix(btn.Text, "🆕") {
		t.Fatalf("inbox button = %+v", btn)
	}

	f.press(7, btn.Data)
	if got := f.lastSent(t).Text; got != "Big sale today" {
		t.Fatalf("opened text = %q", got)
	}
	st, _ := f.inbox.GetState(ctx, 7)
	if st.Disposition(id) != inbox.Seen {
		t.Fatalf("disposition = %v, want seen", st.Disposition(id))
	}

	f.press(7, "alert:later:"+id)
	if f.lastToast(t) != "OK, I will remind you later." || len(f.later.calls) != 1 {
		t.Fatalf("later: toast=%q calls=%v", f.lastToast(t), f.later.calls)
	}

	f.press(7, "alert:ignore:"+id)
	if f.lastToast(t) != "Alert ignored." {
		t.Fatalf("ignore toast = %q", f.lastToast(t))
	}
	if del := f.ad.Deleted(); len(del) != 1 || del[0].MessageID != 42 {
		t.Fatalf("deleted = %+v", del)
	}
	f.send(7, "en", "/inbox")
	if got := f.lastSent(t).Text; got != "Your inbox is empty." {
		t.Fatalf("inbox after ignore = %q", got)
	}
}

func TestOpenExpiredAlert(t *testing.T) {
	f := newFixture(t)
	f.press(7, "alert:open:missing")
	if got := f.lastToast(t); got != "This alert has expired." {
		t.Fatalf("toast = %q", got)
	}
	if len(f.ad.Sent()) != 0 {
		t.Fatalf("sent a message for an expired alert")
	}
}

func TestPersistenceFailureAnswersTryAgain(t *testing.T) {
	f := newFixture(t)
	f.st.FailWith(errors.New("disk full"))

	f.press(7, "alert:delete:abc")
	if got := f.lastToast(t); got != "Something went wrong, please try again." {
		t.Fatalf("toast = %q", got)
	}
	f.send(7, "en", "/subscribe")
	if got := f.lastSent(t).Text; got != "Something went wrong, please try again." {
		t.Fatalf("reply = %q", got)
	}
}

func TestOwnerCommands(t *testing.T) {
	f := newFixture(t)

	f.send(7, "en", "/alerts_stats")
	if got := f.lastSent(t).Text; got != "unauthorized" {
		t.Fatalf("stranger got %q", got)
	}
	f.send(99, "en", "/alerts_stats")
	if got := f.lastSent(t).Text; got != "2026-W10: 2 broadcasts, news=1, promo=3" {
		t.Fatalf("stats = %q", got)
	}
	f.send(99, "en", "/alerts_jobs")
	if got := f.lastSent(t).Text; got != "no scheduled broadcasts" {
		t.Fatalf("jobs = %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	f.send(7, "ar", "/nope")
	if got := f.lastSent(t).Text; !strings.Contains(got, "/inbox") {
		t.Fatalf("unknown reply = %q", got)
	}
}

func TestFormatJobs(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	got := FormatJobs([]jobs.Job{
		{ID: "j1", DueAt: at, Kind: alerts.KindNews},
		{ID: "j2", DueAt: at.Add(time.Hour), Kind: alerts.KindEvent, FiringAt: &at},
	}, time.FixedZone("AST", 3*3600))
	want := "2026-03-04 12:00  news  j1\n2026-03-04 13:00  event  j2 (firing)"
	if got != want {
		t.Fatalf("FormatJobs =\n%s\nwant\n%s", got, want)
	}
}
