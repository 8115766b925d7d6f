// Package reminders re-notifies a user about an alert after a delay.
//
// A reminder is a fire-and-forget supervised goroutine holding only ids.
// It is never cancelled directly: at wake it re-reads the inbox and the
// alert and does nothing if the user dismissed it or it expired. Pending
// reminders live only as long as the process.
package reminders

import (
	"context"
	"errors"
	"sync"
	"time"

	"alertbot/internal/alerts"
	"alertbot/internal/eventbus"
	"alertbot/internal/gateway"
	"alertbot/internal/i18n"
	"alertbot/internal/inbox"
	rtsup "alertbot/internal/runtime/supervisor"
	logx "alertbot/pkg/logx"
)

type Config struct {
	// Delay is used by ScheduleDefault ("remind me later").
	Delay time.Duration
	// RemindSeen keeps reminding after the user opened the alert. By default
	// opening it counts as acknowledgement.
	RemindSeen bool
}

const DefaultDelay = 3 * time.Hour

type StateReader interface {
	GetState(ctx context.Context, userID int64) (inbox.State, error)
}

type AlertGetter interface {
	Get(ctx context.Context, id string) (alerts.Alert, error)
}

type LocaleResolver interface {
	LocaleFor(ctx context.Context, userID int64) string
}

type Translator interface {
	T(locale, key string, params ...string) string
	Kind(locale, kind string) string
	Default() string
}

type Deps struct {
	Inbox      StateReader
	Alerts     AlertGetter
	Locales    LocaleResolver
	Gateway    gateway.Gateway
	Translator Translator
	Bus        eventbus.Bus
	Log        logx.Logger
}

// Outcome of one reminder wake-up.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDismissed Outcome = "dismissed"
	OutcomeSeen      Outcome = "seen"
	OutcomeExpired   Outcome = "expired"
	OutcomeFailed    Outcome = "failed"
)

type Service struct {
	d   Deps
	log logx.Logger
	bus eventbus.Bus
	sup *rtsup.Supervisor

	mu  sync.Mutex
	cfg Config
}

// New starts a reminder service whose pending timers end with parent or Stop.
func New(parent context.Context, cfg Config, d Deps) *Service {
	s := &Service{d: d, log: d.Log, bus: d.Bus}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	s.sup = rtsup.NewSupervisor(parent, rtsup.WithLogger(s.log))
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Schedule re-notifies userID about alertID after delay unless the alert is
// dismissed or expired by then.
func (s *Service) Schedule(userID int64, alertID string, delay time.Duration) {
	if s.sup.Context().Err() != nil {
		s.log.Debug("reminder dropped; service stopped", logx.Int64("user_id", userID), logx.String("alert_id", alertID))
		return
	}
	s.log.Debug("reminder scheduled", logx.Int64("user_id", userID), logx.String("alert_id", alertID), logx.Duration("delay", delay))
	s.sup.GoAfter("reminder", delay, func(ctx context.Context) {
		s.fire(ctx, userID, alertID)
	})
}

// ScheduleDefault uses the configured delay and returns it.
func (s *Service) ScheduleDefault(userID int64, alertID string) time.Duration {
	d := s.config().Delay
	s.Schedule(userID, alertID, d)
	return d
}

// Pending counts reminders still waiting or running.
func (s *Service) Pending() int {
	n := 0
	for _, t := range s.sup.Snapshot().Tasks {
		if t.Name == "reminder" {
			n += int(t.Active)
		}
	}
	return n
}

// Stop drops every pending reminder.
func (s *Service) Stop(ctx context.Context) error {
	return s.sup.Stop(ctx)
}

func (s *Service) fire(ctx context.Context, userID int64, alertID string) Outcome {
	out := s.check(ctx, userID, alertID)
	if out != "" {
		s.log.Debug("reminder skipped", logx.Int64("user_id", userID), logx.String("alert_id", alertID), logx.String("reason", string(out)))
		return out
	}

	a, err := s.d.Alerts.Get(ctx, alertID)
	if errors.Is(err, alerts.ErrNotFound) {
		return OutcomeExpired
	}
	if err != nil {
		s.log.Warn("reminder alert lookup failed", logx.String("alert_id", alertID), logx.Err(err))
		return OutcomeFailed
	}

	locale := ""
	if s.d.Locales != nil {
		locale = s.d.Locales.LocaleFor(ctx, userID)
	}
	if locale == "" {
		locale = s.d.Translator.Default()
	}
	text := s.d.Translator.T(locale, i18n.KeyReminder, s.d.Translator.Kind(locale, string(a.Kind)))
	rows := gateway.ReminderButtons(s.d.Translator, locale, alertID)

	if _, err := s.d.Gateway.Send(ctx, userID, text, rows); err != nil {
		s.log.Info("reminder not delivered", logx.Int64("user_id", userID), logx.String("alert_id", alertID), logx.String("outcome", gateway.Classify(err).String()), logx.Err(err))
		return OutcomeFailed
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderSent, ActorID: userID, Target: alertID})
	return OutcomeSent
}

// check returns a skip reason, or "" when the reminder should be sent.
func (s *Service) check(ctx context.Context, userID int64, alertID string) Outcome {
	st, err := s.d.Inbox.GetState(ctx, userID)
	if err != nil {
		s.log.Warn("reminder state lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		return OutcomeFailed
	}
	if st.Dismissed(alertID) {
		return OutcomeDismissed
	}
	if st.IsSeen(alertID) && !s.config().RemindSeen {
		return OutcomeSeen
	}
	return ""
}
