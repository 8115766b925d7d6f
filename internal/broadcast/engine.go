// Package broadcast fans an alert out to every subscribed recipient.
//
// Sends are sequential and paced by a shared token bucket so the aggregate
// outbound rate never exceeds rate_limit messages per second. Per-recipient
// failures are counted and never abort the fan-out.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alertbot/internal/alerts"
	"alertbot/internal/eventbus"
	"alertbot/internal/gateway"
	"alertbot/internal/i18n"
	rtsup "alertbot/internal/runtime/supervisor"
	"alertbot/internal/storage"
	kit "alertbot/internal/transport"
	logx "alertbot/pkg/logx"
)

type Deps struct {
	Alerts     AlertPublisher
	Recipients RecipientResolver
	Locales    LocaleResolver
	Gateway    gateway.Gateway
	Translator Translator
	Reminders  ReminderScheduler // optional
	Store      storage.Store
	Supervisor *rtsup.Supervisor
	Bus        eventbus.Bus
	Log        logx.Logger
	Now        func() time.Time
}

type Engine struct {
	alerts     AlertPublisher
	recipients RecipientResolver
	locales    LocaleResolver
	gw         gateway.Gateway
	tr         Translator
	reminders  ReminderScheduler
	st         storage.Store
	sup        *rtsup.Supervisor
	bus        eventbus.Bus
	log        logx.Logger
	now        func() time.Time

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, d Deps) *Engine {
	e := &Engine{
		alerts:     d.Alerts,
		recipients: d.Recipients,
		locales:    d.Locales,
		gw:         d.Gateway,
		tr:         d.Translator,
		reminders:  d.Reminders,
		st:         d.Store,
		sup:        d.Supervisor,
		bus:        d.Bus,
		log:        d.Log,
		now:        d.Now,
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.bus == nil {
		e.bus = eventbus.Nop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.Apply(cfg)
	return e
}

// Apply swaps the configuration. In-flight broadcasts keep their snapshot.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limiter == nil || e.cfg.RateLimit != cfg.RateLimit {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	e.cfg = cfg
}

func (e *Engine) snapshot() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

func (e *Engine) Config() Config {
	cfg, _ := e.snapshot()
	return cfg
}

func (e *Engine) Policy() Policy {
	cfg, _ := e.snapshot()
	return Policy{
		Enabled:    cfg.Enabled,
		RateLimit:  cfg.RateLimit,
		MaxPerWeek: cfg.MaxPerWeek,
		QuietHours: cfg.QuietHours.String(),
		Timezone:   cfg.Location.String(),
		ActiveFor:  cfg.ActiveFor,
		Mode:       cfg.Mode,
		PingTTL:    cfg.PingTTL,
	}
}

// CurrentWeek is the ISO week key of now in the configured timezone.
func (e *Engine) CurrentWeek() string {
	cfg, _ := e.snapshot()
	return WeekKey(e.now().In(cfg.Location))
}

// Check evaluates quiet hours at now without side effects. The weekly cap
// is enforced atomically inside Broadcast.
func (e *Engine) Check(now time.Time) error {
	cfg, _ := e.snapshot()
	if !cfg.Enabled {
		return ErrDisabled
	}
	if cfg.QuietHours.Contains(now.In(cfg.Location)) {
		return ErrQuietHours
	}
	return nil
}

// QuietUntil returns when the current quiet window ends, or now if outside it.
func (e *Engine) QuietUntil(now time.Time) time.Time {
	cfg, _ := e.snapshot()
	return cfg.QuietHours.Next(now.In(cfg.Location))
}

// Broadcast publishes the alert and delivers it to every recipient.
//
// A disabled engine returns ErrDisabled with a zero Result and no side
// effects. Quiet hours and the weekly cap return ErrQuietHours and
// ErrWeeklyCap before anything is written, unless req.Force is set.
// Once the alert is stored, the error is nil even if every send failed;
// cancellation stops the fan-out early and returns ctx.Err() with the
// partial Result.
func (e *Engine) Broadcast(ctx context.Context, req Request) (Result, error) {
	cfg, limiter := e.snapshot()
	if !cfg.Enabled {
		return Result{}, ErrDisabled
	}
	if !req.Kind.Valid() {
		return Result{}, fmt.Errorf("%w: unknown kind %q", alerts.ErrInvalid, req.Kind)
	}

	start := e.now()
	local := start.In(cfg.Location)
	if !req.Force && cfg.QuietHours.Contains(local) {
		e.refused(req, ErrQuietHours)
		return Result{}, ErrQuietHours
	}
	week := WeekKey(local)
	if err := reserve(ctx, e.st, week, cfg.MaxPerWeek, req.Force); err != nil {
		if errors.Is(err, ErrWeeklyCap) {
			e.refused(req, err)
		}
		return Result{}, err
	}

	mode := req.Mode
	if mode == "" {
		mode = cfg.Mode
	}
	activeFor := req.ActiveFor
	if activeFor <= 0 {
		activeFor = cfg.ActiveFor
	}
	pingTTL := req.PingTTL
	if pingTTL == 0 {
		pingTTL = cfg.PingTTL
	}

	alertID, err := e.alerts.Publish(ctx, req.Kind, req.Body, activeFor)
	if err != nil {
		if rerr := release(context.WithoutCancel(ctx), e.st, week); rerr != nil {
			e.log.Warn("weekly slot release failed", logx.String("week", week), logx.Err(rerr))
		}
		return Result{}, err
	}
	body := alerts.NormalizeBody(req.Body)
	res := Result{AlertID: alertID}

	recipients, err := e.recipients.ResolveRecipients(ctx)
	if err != nil {
		// The alert stays visible in inboxes; nobody is pinged.
		e.log.Error("resolve recipients failed", logx.String("alert_id", alertID), logx.Err(err))
		recipients = nil
	}

	var delivered []kit.MessageRef
	var runErr error
	for _, uid := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}
		locale := ""
		if e.locales != nil {
			locale = e.locales.LocaleFor(ctx, uid)
		}
		if locale == "" {
			locale = cfg.DefaultLocale
		}

		text, ok := alerts.Text(body, locale, cfg.DefaultLocale)
		if !ok {
			res.Skipped++
			continue
		}
		var rows [][]kit.Button
		if mode == ModeInbox {
			text = e.tr.T(locale, i18n.KeyNewAlert, e.tr.Kind(locale, string(req.Kind)))
			rows = gateway.NotificationButtons(e.tr, locale, alertID)
		}

		ref, err := e.gw.Send(ctx, uid, text, rows)
		switch gateway.Classify(err) {
		case gateway.OutcomeSent:
			res.Sent++
			delivered = append(delivered, ref)
			if mode == ModeInbox && cfg.RemindAfter > 0 && e.reminders != nil {
				e.reminders.Schedule(uid, alertID, cfg.RemindAfter)
			}
		case gateway.OutcomeBlocked:
			res.Failed++
			res.Blocked++
			e.log.Debug("recipient blocked", logx.Int64("user_id", uid), logx.Err(err))
		default:
			res.Failed++
			e.log.Debug("send failed", logx.Int64("user_id", uid), logx.Err(err))
		}
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
	}

	if err := addSent(context.WithoutCancel(ctx), e.st, week, req.Kind, res.Sent); err != nil {
		e.log.Error("stats update failed", logx.String("week", week), logx.Err(err))
	}
	if pingTTL > 0 && len(delivered) > 0 {
		e.scheduleDelete(alertID, pingTTL, delivered)
	}

	fields := []logx.Field{
		logx.String("alert_id", alertID),
		logx.String("kind", string(req.Kind)),
		logx.String("mode", string(mode)),
		logx.Int("recipients", len(recipients)),
		logx.Int("sent", res.Sent),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", res.Failed),
		logx.Duration("took", e.now().Sub(start)),
	}
	if res.Failed > 0 || runErr != nil {
		e.log.Warn("broadcast finished with failures", append(fields, logx.Err(runErr))...)
	} else {
		e.log.Info("broadcast finished", fields...)
	}
	e.bus.Publish(eventbus.Event{
		Type:    eventbus.BroadcastFinished,
		ActorID: req.ActorID,
		Source:  req.Source,
		Target:  alertID,
		Data:    res,
	})
	return res, runErr
}

func (e *Engine) refused(req Request, err error) {
	e.log.Info("broadcast refused", logx.String("kind", string(req.Kind)), logx.Err(err))
	e.bus.Publish(eventbus.Event{
		Type:    eventbus.BroadcastRefused,
		ActorID: req.ActorID,
		Source:  req.Source,
		Target:  string(req.Kind),
		Data:    err.Error(),
	})
}

// scheduleDelete removes delivered notifications after ttl. Failures are ignored.
func (e *Engine) scheduleDelete(alertID string, ttl time.Duration, refs []kit.MessageRef) {
	if e.sup == nil {
		return
	}
	e.sup.GoAfter("broadcast.autodelete", ttl, func(ctx context.Context) {
		failed := 0
		for _, ref := range refs {
			if err := e.gw.Delete(ctx, ref); err != nil {
				failed++
			}
			if ctx.Err() != nil {
				return
			}
		}
		e.log.Debug("broadcast notices deleted", logx.String("alert_id", alertID), logx.Int("total", len(refs)), logx.Int("failed", failed))
	})
}
