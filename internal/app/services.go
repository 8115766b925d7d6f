package app

import (
	"context"
	"errors"
	"time"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/config"
	"alertbot/internal/eventbus"
	"alertbot/internal/gateway"
	"alertbot/internal/i18n"
	"alertbot/internal/inbox"
	"alertbot/internal/jobs"
	"alertbot/internal/reminders"
	rtsup "alertbot/internal/runtime/supervisor"
	"alertbot/internal/storage"
	"alertbot/internal/subscriptions"
	kit "alertbot/internal/transport"
	"alertbot/internal/users"
	logx "alertbot/pkg/logx"
)

// Services is the domain graph. The daemon and the one-shot CLI commands
// build the same graph over the same store.
type Services struct {
	Store         storage.Store
	Bus           eventbus.Bus
	Users         *users.Registry
	Subscriptions *subscriptions.Registry
	Alerts        *alerts.Store
	Inbox         *inbox.Tracker
	Translator    *i18n.Translator
	Reminders     *reminders.Service
	Broadcast     *broadcast.Engine
	Jobs          *jobs.Scheduler

	// bg owns auto-delete timers and other fire-and-forget work.
	bg  *rtsup.Supervisor
	log logx.Logger
}

// BuildServices opens storage and wires every domain component. gw may be
// nil for commands that never send (jobs list, stats); every send then
// fails with errOffline.
func BuildServices(ctx context.Context, cfg *config.Config, gw gateway.Gateway, log logx.Logger) (*Services, error) {
	if err := validateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	sc, _ := mapStorageConfig(cfg)
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	s, err := buildOnStore(ctx, cfg, st, gw, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))
	return s, nil
}

func buildOnStore(ctx context.Context, cfg *config.Config, st storage.Store, gw gateway.Gateway, log logx.Logger) (*Services, error) {
	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	jcfg, err := mapJobsConfig(cfg)
	if err != nil {
		return nil, err
	}
	rcfg, err := mapRemindersConfig(cfg)
	if err != nil {
		return nil, err
	}
	tr, err := i18n.New(cfg.Alerts.DefaultLocale)
	if err != nil {
		return nil, err
	}
	if gw == nil {
		gw = offlineGateway{}
	}

	bus := eventbus.New()
	bg := rtsup.NewSupervisor(ctx, rtsup.WithLogger(log.With(logx.String("comp", "background"))))

	s := &Services{Store: st, Bus: bus, Translator: tr, bg: bg, log: log}
	s.Users = users.New(st, nil, log.With(logx.String("comp", "users")))
	s.Subscriptions = subscriptions.New(st, subscriptions.Options{
		Known: s.Users,
		Log:   log.With(logx.String("comp", "subscriptions")),
		Bus:   bus,
	})
	s.Alerts = alerts.NewStore(st, alerts.Options{
		DefaultLocale: tr.Default(),
		Log:           log.With(logx.String("comp", "alerts")),
		Bus:           bus,
	})
	s.Inbox = inbox.New(st, s.Alerts, inbox.Options{
		Log: log.With(logx.String("comp", "inbox")),
		Bus: bus,
	})
	s.Reminders = reminders.New(ctx, rcfg, reminders.Deps{
		Inbox:      s.Inbox,
		Alerts:     s.Alerts,
		Locales:    s.Users,
		Gateway:    gw,
		Translator: tr,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "reminders")),
	})
	s.Broadcast = broadcast.New(bcfg, broadcast.Deps{
		Alerts:     s.Alerts,
		Recipients: s.Subscriptions,
		Locales:    s.Users,
		Gateway:    gw,
		Translator: tr,
		Reminders:  s.Reminders,
		Store:      st,
		Supervisor: bg,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "broadcast")),
	})
	s.Jobs = jobs.New(jcfg, jobs.Deps{
		Store:       st,
		Broadcaster: s.Broadcast,
		Sweep:       s.Sweep,
		Bus:         bus,
		Log:         log.With(logx.String("comp", "jobs")),
	})
	return s, nil
}

// Sweep removes expired alerts, then drops inbox marks that point at them.
func (s *Services) Sweep(ctx context.Context) {
	removed, err := s.Alerts.Sweep(ctx)
	if err != nil {
		s.log.Warn("alert sweep failed", logx.Err(err))
		return
	}
	asOf := time.Now()
	active, err := s.Alerts.Active(ctx)
	if err != nil {
		s.log.Warn("alert sweep: list active failed", logx.Err(err))
		return
	}
	ids := make(map[string]struct{}, len(active))
	for _, a := range active {
		ids[a.ID] = struct{}{}
	}
	pruned, err := s.Inbox.Prune(ctx, ids, asOf)
	if err != nil {
		s.log.Warn("inbox prune failed", logx.Err(err))
	}
	if removed > 0 || pruned > 0 {
		s.log.Info("sweep done", logx.Int("alerts_removed", removed), logx.Int("inboxes_pruned", pruned))
	}
}

// Apply pushes a reloaded config into the live components. Storage and
// the default locale need a restart.
func (s *Services) Apply(cfg *config.Config) error {
	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return err
	}
	jcfg, err := mapJobsConfig(cfg)
	if err != nil {
		return err
	}
	rcfg, err := mapRemindersConfig(cfg)
	if err != nil {
		return err
	}
	s.Broadcast.Apply(bcfg)
	s.Reminders.Apply(rcfg)
	return s.Jobs.Apply(jcfg)
}

// Close stops the scheduler, pending reminders and background work, then
// closes the store.
func (s *Services) Close(ctx context.Context) error {
	errs := []error{
		s.Jobs.Stop(ctx),
		s.Reminders.Stop(ctx),
		s.bg.Stop(ctx),
		s.Store.Close(),
	}
	return errors.Join(errs...)
}

var errOffline = errors.New("no chat gateway in this process")

// offlineGateway backs CLI commands started without a bot token.
type offlineGateway struct{}

func (offlineGateway) Send(context.Context, int64, string, [][]kit.Button) (kit.MessageRef, error) {
	return kit.MessageRef{}, errOffline
}

func (offlineGateway) Delete(context.Context, kit.MessageRef) error { return errOffline }
