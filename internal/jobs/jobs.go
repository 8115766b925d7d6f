package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/eventbus"
	"alertbot/internal/storage"
	logx "alertbot/pkg/logx"
)

type Deps struct {
	Store       storage.Store
	Broadcaster Broadcaster
	// Sweep runs on the sweep schedule (expired alerts, inbox pruning).
	Sweep func(ctx context.Context)
	Bus   eventbus.Bus
	Log   logx.Logger
	Now   func() time.Time
}

type Scheduler struct {
	st    storage.Store
	bc    Broadcaster
	sweep func(ctx context.Context)
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	// instance tags claims written by this process. Claims with another
	// owner belong to a dead process and are fired again.
	instance string

	mu      sync.Mutex
	cfg     Config
	cron    *cron.Cron
	runCtx  context.Context
	stopRun context.CancelFunc
	running bool
	parent  context.Context
}

func New(cfg Config, d Deps) *Scheduler {
	s := &Scheduler{
		st:       d.Store,
		bc:       d.Broadcaster,
		sweep:    d.Sweep,
		bus:      d.Bus,
		log:      d.Log,
		now:      d.Now,
		instance: uuid.NewString(),
		cfg:      cfg.withDefaults(),
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Location is the timezone used for local due-time input.
func (s *Scheduler) Location() *time.Location { return s.Config().Location }

// ---- queue ----

func (s *Scheduler) Enqueue(ctx context.Context, spec Spec) (string, error) {
	if !spec.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", alerts.ErrInvalid, spec.Kind)
	}
	if spec.DueAt.IsZero() {
		return "", fmt.Errorf("%w: due time required", alerts.ErrInvalid)
	}
	if spec.TTL < 0 {
		return "", fmt.Errorf("%w: ttl must be >= 0", alerts.ErrInvalid)
	}
	if _, ok := broadcast.ParseMode(string(spec.Mode)); !ok {
		return "", fmt.Errorf("%w: unknown mode %q", alerts.ErrInvalid, spec.Mode)
	}
	body := map[string]string{}
	for loc, txt := range spec.Body {
		loc = strings.TrimSpace(loc)
		if loc == "" || strings.TrimSpace(txt) == "" {
			continue
		}
		body[loc] = txt
	}
	if len(body) == 0 {
		return "", fmt.Errorf("%w: body has no text", alerts.ErrInvalid)
	}

	j := Job{
		ID:        uuid.NewString(),
		DueAt:     spec.DueAt.UTC(),
		Kind:      spec.Kind,
		Body:      body,
		TTL:       spec.TTL,
		Mode:      spec.Mode,
		CreatedAt: s.now().UTC(),
		CreatedBy: spec.CreatedBy,
	}
	if err := storage.PutJSON(ctx, s.st, storage.Jobs, j.ID, j); err != nil {
		return "", err
	}
	s.log.Info("job scheduled",
		logx.String("job_id", j.ID),
		logx.String("kind", string(j.Kind)),
		logx.String("due_at", j.DueAt.Format(time.RFC3339)),
	)
	s.bus.Publish(eventbus.Event{
		Type:    eventbus.JobScheduled,
		Time:    j.CreatedAt,
		ActorID: spec.CreatedBy,
		Target:  j.ID,
		Data:    map[string]any{"kind": j.Kind, "due_at": j.DueAt},
	})
	return j.ID, nil
}

// List returns every queued job ordered by due time.
func (s *Scheduler) List(ctx context.Context) ([]Job, error) {
	m, err := storage.ListJSON[Job](ctx, s.st, storage.Jobs)
	if err != nil && len(m) == 0 {
		return nil, err
	}
	if err != nil {
		s.log.Warn("jobs: skipped unreadable records", logx.Err(err))
	}
	out := make([]Job, 0, len(m))
	for _, j := range m {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].DueAt.Equal(out[k].DueAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].DueAt.Before(out[k].DueAt)
	})
	return out, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (Job, error) {
	var j Job
	ok, err := storage.GetJSON(ctx, s.st, storage.Jobs, id, &j)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, ErrNotFound
	}
	return j, nil
}

// Cancel removes a pending job. It reports false when the job does not exist
// or is already firing.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	removed := false
	err := storage.UpdateJSON(ctx, s.st, storage.Jobs, id, func(cur *Job, exists bool) (storage.Op, error) {
		removed = false
		if !exists || cur.Claimed() {
			return storage.OpKeep, nil
		}
		removed = true
		return storage.OpDelete, nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		s.log.Info("job cancelled", logx.String("job_id", id))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobCancelled, Time: s.now(), Target: id})
	}
	return removed, nil
}

// CancelAll removes every pending job and returns how many were removed.
func (s *Scheduler) CancelAll(ctx context.Context) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	var firstErr error
	for _, j := range all {
		ok, err := s.Cancel(ctx, j.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			n++
		}
	}
	return n, firstErr
}

// ---- firing ----

func (s *Scheduler) claimable(j Job, now time.Time) bool {
	if j.DueAt.After(now) {
		return false
	}
	return !j.Claimed() || j.Owner != s.instance
}

// claim marks the job as firing. prev is the owner of a stale claim, if any.
func (s *Scheduler) claim(ctx context.Context, id string, now time.Time) (got Job, prev string, ok bool, err error) {
	err = storage.UpdateJSON(ctx, s.st, storage.Jobs, id, func(cur *Job, exists bool) (storage.Op, error) {
		ok = false
		if !exists || !s.claimable(*cur, now) {
			return storage.OpKeep, nil
		}
		prev = cur.Owner
		at := now.UTC()
		cur.FiringAt = &at
		cur.Owner = s.instance
		got = *cur
		ok = true
		return storage.OpPut, nil
	})
	return got, prev, ok, err
}

func (s *Scheduler) release(ctx context.Context, id string) error {
	return storage.UpdateJSON(ctx, s.st, storage.Jobs, id, func(cur *Job, exists bool) (storage.Op, error) {
		if !exists || cur.Owner != s.instance {
			return storage.OpKeep, nil
		}
		cur.FiringAt = nil
		cur.Owner = ""
		return storage.OpPut, nil
	})
}

// Tick fires every due job in due-time order.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var rep TickReport
	now := s.now()
	all, err := s.List(ctx)
	if err != nil {
		s.log.Error("jobs: list failed", logx.Err(err))
		return rep
	}
	for _, j := range all {
		if ctx.Err() != nil {
			break
		}
		if !s.claimable(j, now) {
			continue
		}
		rep.Due++
		s.fire(ctx, j.ID, now, &rep)
	}
	if rep.Due > 0 {
		s.log.Debug("jobs tick",
			logx.Int("due", rep.Due),
			logx.Int("fired", rep.Fired),
			logx.Int("deferred", rep.Deferred),
			logx.Int("dropped", rep.Dropped),
		)
	}
	return rep
}

func (s *Scheduler) fire(ctx context.Context, id string, now time.Time, rep *TickReport) {
	j, prev, ok, err := s.claim(ctx, id, now)
	if err != nil {
		s.log.Error("jobs: claim failed", logx.String("job_id", id), logx.Err(err))
		return
	}
	if !ok {
		return
	}
	if prev != "" {
		s.log.Warn("jobs: re-firing job claimed by a previous process", logx.String("job_id", id), logx.String("prev_owner", prev))
	}

	res, err := s.bc.Broadcast(ctx, broadcast.Request{
		Kind:      j.Kind,
		Body:      j.Body,
		Mode:      j.Mode,
		ActiveFor: j.TTL,
		ActorID:   j.CreatedBy,
		Source:    "scheduler",
	})
	switch {
	case errors.Is(err, broadcast.ErrQuietHours):
		if rerr := s.release(context.WithoutCancel(ctx), id); rerr != nil {
			s.log.Error("jobs: release failed", logx.String("job_id", id), logx.Err(rerr))
		}
		rep.Deferred++
		return
	case ctx.Err() != nil && res.AlertID == "":
		// Stopped before anything was published: hand the job back so a
		// later tick, or Cancel, can take it.
		if rerr := s.release(context.WithoutCancel(ctx), id); rerr != nil {
			s.log.Error("jobs: release failed", logx.String("job_id", id), logx.Err(rerr))
		}
		rep.Deferred++
		return
	case ctx.Err() != nil && err == nil:
		err = ctx.Err()
	}

	if _, derr := s.st.Delete(context.WithoutCancel(ctx), storage.Jobs, id); derr != nil {
		s.log.Error("jobs: remove after fire failed", logx.String("job_id", id), logx.Err(derr))
	}
	data := map[string]any{"kind": j.Kind, "alert_id": res.AlertID, "sent": res.Sent, "failed": res.Failed}
	if err != nil {
		rep.Dropped++
		data["error"] = err.Error()
		s.log.Error("scheduled broadcast failed", logx.String("job_id", id), logx.Err(err))
	} else {
		rep.Fired++
		s.log.Info("scheduled broadcast fired",
			logx.String("job_id", id),
			logx.String("alert_id", res.AlertID),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
		)
	}
	s.bus.Publish(eventbus.Event{
		Type:    eventbus.JobFired,
		Time:    s.now(),
		ActorID: j.CreatedBy,
		Source:  "scheduler",
		Target:  id,
		Data:    data,
	})
}

// ---- lifecycle ----

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.parent = ctx
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	runCtx, cancel := context.WithCancel(s.parent)
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	if _, err := c.AddFunc("@every "+s.cfg.Tick.String(), func() { s.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("jobs: add tick: %w", err)
	}
	if s.sweep != nil {
		if _, err := c.AddFunc("@every "+s.cfg.Sweep.String(), func() { s.sweep(runCtx) }); err != nil {
			cancel()
			return fmt.Errorf("jobs: add sweep: %w", err)
		}
	}
	c.Start()
	s.cron, s.runCtx, s.stopRun, s.running = c, runCtx, cancel, true
	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.Tick),
		logx.Duration("sweep", s.cfg.Sweep),
		logx.String("tz", s.cfg.Location.String()),
	)
	return nil
}

func (s *Scheduler) stopLocked(ctx context.Context) error {
	if !s.running {
		return nil
	}
	s.stopRun()
	done := s.cron.Stop().Done()
	s.cron, s.running = nil, false
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the tick and waits for an in-flight tick to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// Apply swaps the configuration and restarts the cron when timing changed.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.parent == nil {
		return nil
	}
	changed := old.Enabled != cfg.Enabled || old.Tick != cfg.Tick || old.Sweep != cfg.Sweep ||
		old.Location.String() != cfg.Location.String()
	if !changed {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.stopLocked(stopCtx); err != nil {
		s.log.Warn("jobs: stop during reload timed out", logx.Err(err))
	}
	return s.startLocked()
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
