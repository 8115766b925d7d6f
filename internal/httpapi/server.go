// Package httpapi is the JSON admin API: publish and list alerts, manage
// scheduled broadcasts, drive a user's inbox and read delivery stats.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/inbox"
	"alertbot/internal/jobs"
	rtsup "alertbot/internal/runtime/supervisor"
	logx "alertbot/pkg/logx"
)

type Alerts interface {
	Publish(ctx context.Context, kind alerts.Kind, body map[string]string, ttl time.Duration) (string, error)
	Get(ctx context.Context, id string) (alerts.Alert, error)
	ListActive(ctx context.Context, locale string) ([]alerts.Entry, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, req broadcast.Request) (broadcast.Result, error)
	Stats(ctx context.Context) ([]broadcast.WeekStats, error)
}

type Scheduler interface {
	Enqueue(ctx context.Context, spec jobs.Spec) (string, error)
	List(ctx context.Context) ([]jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
	Cancel(ctx context.Context, id string) (bool, error)
	CancelAll(ctx context.Context) (int, error)
	Location() *time.Location
}

type Inbox interface {
	Visible(ctx context.Context, userID int64, locale string) ([]inbox.Entry, error)
	MarkSeen(ctx context.Context, userID int64, alertID string) error
	MarkIgnored(ctx context.Context, userID int64, alertID string) error
	MarkDeleted(ctx context.Context, userID int64, alertID string) error
}

type Subscriptions interface {
	SetSubscribed(ctx context.Context, userID int64, on bool) error
	IsSubscribed(ctx context.Context, userID int64) (bool, error)
}

type Reminders interface {
	Schedule(userID int64, alertID string, delay time.Duration)
	ScheduleDefault(userID int64, alertID string) time.Duration
}

type Config struct {
	Enabled     bool
	Addr        string
	Token       string
	CORSOrigins []string
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int
	// Pprof mounts the runtime profiler under /debug, behind the token.
	Pprof bool
}

type Deps struct {
	Alerts        Alerts
	Broadcaster   Broadcaster
	Scheduler     Scheduler
	Inbox         Inbox
	Subscriptions Subscriptions
	Reminders     Reminders
	Log           logx.Logger
	Now           func() time.Time
}

type Server struct {
	d     Deps
	log   logx.Logger
	now   func() time.Time
	valid *Validator
	token atomic.Value // string

	mu   sync.Mutex
	cfg  Config
	srv  *http.Server
	addr string
}

func New(cfg Config, d Deps) (*Server, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{d: d, log: d.Log, now: d.Now, valid: v, cfg: cfg}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.token.Store(cfg.Token)
	return s, nil
}

// SetToken rotates the bearer token without restarting the listener.
func (s *Server) SetToken(token string) { s.token.Store(token) }

func (s *Server) currentToken() string {
	t, _ := s.token.Load().(string)
	return t
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(s.log))

	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)
	r.Use(rateLimit(cfg.RateLimit))

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(s.currentToken))

		r.Post("/alerts", s.publishAlert)
		r.Get("/alerts", s.listAlerts)
		r.Get("/alerts/{id}", s.getAlert)

		r.Post("/jobs", s.enqueueJob)
		r.Get("/jobs", s.listJobs)
		r.Delete("/jobs", s.cancelAllJobs)
		r.Delete("/jobs/{id}", s.cancelJob)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/inbox", s.userInbox)
			r.Post("/alerts/{alertID}/{action}", s.markAlert)
			r.Post("/reminders", s.scheduleReminder)
			r.Get("/subscription", s.getSubscription)
			r.Put("/subscription", s.setSubscription)
		})

		r.Get("/stats", s.stats)
	})

	if cfg.Pprof {
		r.With(bearerAuth(s.currentToken)).Mount("/debug", middleware.Profiler())
	}
	return r
}

// Start listens on cfg.Addr and serves under sup. A disabled config is a no-op.
func (s *Server) Start(sup *rtsup.Supervisor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv, s.addr = srv, ln.Addr().String()
	s.log.Info("http api listening", logx.String("addr", s.addr))
	sup.Go("http.serve", func(ctx context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
