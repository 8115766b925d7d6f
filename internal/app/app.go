package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"alertbot/internal/bot"
	"alertbot/internal/config"
	"alertbot/internal/eventbus"
	"alertbot/internal/gateway"
	"alertbot/internal/httpapi"
	rtsup "alertbot/internal/runtime/supervisor"
	kit "alertbot/internal/transport"
	telegram "alertbot/internal/transport/telegram/adapter"
	"alertbot/internal/transport/telegram/router"
	logx "alertbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	svc     *Services
	router  *router.Router
	bot     *bot.Bot
	http    *httpapi.Server

	updates chan kit.Update
}

// NewApp loads the config and builds every component. Nothing runs until
// Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(ctx, cfg); err != nil {
		return nil, err
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off so Apply does not warn about a
	// missing target, then enable it once the target is set.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if chatID, ok := groupLogChat(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	ad.SetLogger(log.With(logx.String("comp", "telegram")))

	// Services outlive the caller's context; Stop tears them down in order.
	svc, err := BuildServices(context.WithoutCancel(ctx), cfg, gateway.NewChat(ad), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	rt := router.New(log.With(logx.String("comp", "router")), ad, cfg.Telegram.OwnerUserIDs)
	b := bot.New(bot.Deps{
		Users:         svc.Users,
		Subscriptions: svc.Subscriptions,
		Alerts:        svc.Alerts,
		Inbox:         svc.Inbox,
		Reminders:     svc.Reminders,
		Stats:         svc.Broadcast,
		Jobs:          svc.Jobs,
		Translator:    svc.Translator,
		Location:      svc.Jobs.Location(),
		Log:           log.With(logx.String("comp", "bot")),
	})

	hcfg, _ := mapHTTPConfig(cfg)
	api, err := httpapi.New(hcfg, httpapi.Deps{
		Alerts:        svc.Alerts,
		Broadcaster:   svc.Broadcast,
		Scheduler:     svc.Jobs,
		Inbox:         svc.Inbox,
		Subscriptions: svc.Subscriptions,
		Reminders:     svc.Reminders,
		Log:           log.With(logx.String("comp", "http")),
	})
	if err != nil {
		_ = svc.Close(ctx)
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		adapter: ad,
		svc:     svc,
		router:  rt,
		bot:     b,
		http:    api,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Services exposes the domain graph.
func (a *App) Services() *Services { return a.svc }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the adapter, dispatcher, scheduler, HTTP API, audit sink and
// config watcher, then reports readiness to systemd.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.bot.Register(runCtx, a.router)
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if err := a.svc.Jobs.Start(runCtx); err != nil {
		return err
	}
	if err := a.http.Start(a.sup); err != nil {
		return fmt.Errorf("http api: %w", err)
	}

	a.sup.Go0("audit.sink", func(c context.Context) {
		runAudit(c, a.svc.Bus, a.svc.Store, a.log.With(logx.String("comp", "audit")))
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	startSystemd(a.sup, a.log.With(logx.String("comp", "systemd")))
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated reload into the running components.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)

	if chatID, ok := groupLogChat(next); ok {
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(next))

	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	if err := a.svc.Apply(next); err != nil {
		a.log.Warn("config apply failed; keeping previous", logx.Err(err))
	}
	a.http.SetToken(next.HTTP.Token)

	for _, s := range []string{"storage", "http"} {
		if slices.Contains(sections, s) && restartOnly(s, prev, next) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	if next.Telegram.Token != prev.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.svc.Bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Source: "config", Data: sections})
	a.log.Info("config reloaded", fields...)
}

// restartOnly reports whether section changed in a way Apply cannot pick up.
func restartOnly(section string, prev, next *config.Config) bool {
	switch section {
	case "storage":
		return true
	case "http":
		p, n := prev.HTTP, next.HTTP
		return p.Enabled != n.Enabled || p.Addr != n.Addr || p.RateLimit != n.RateLimit || p.Pprof != n.Pprof ||
			!slices.Equal(p.CORSOrigins, n.CORSOrigins)
	}
	return false
}

// Stop shuts components down in reverse dependency order: inputs first
// (HTTP, adapter), then the scheduler and pending work, then storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, sdStopping)

	a.sup.Cancel()

	a.step(ctx, "http", 3*time.Second, a.http.Stop)
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "services", 5*time.Second, a.svc.Close)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline, so
// one component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
