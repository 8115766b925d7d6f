// Package alerts is the durable repository of active alerts.
//
// Alerts are immutable once published. Expiry is evaluated on every read;
// Sweep removes expired records in the background.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"alertbot/internal/eventbus"
	"alertbot/internal/storage"
	logx "alertbot/pkg/logx"
)

var (
	// ErrNotFound means the alert never existed or has expired.
	// Callers should present it as "expired".
	ErrNotFound = errors.New("alert not found")
	ErrInvalid  = errors.New("invalid alert")
)

type Alert struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Kind      Kind              `json:"kind"`
	Body      map[string]string `json:"body"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

func (a Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Entry is an alert resolved for one locale.
type Entry struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"ts"`
	Kind      Kind       `json:"kind"`
	Text      string     `json:"text"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type Options struct {
	DefaultLocale string
	Now           func() time.Time
	Log           logx.Logger
	Bus           eventbus.Bus
}

type Store struct {
	st        storage.Store
	now       func() time.Time
	log       logx.Logger
	bus       eventbus.Bus
	defLocale atomic.Value // string
}

func NewStore(st storage.Store, opt Options) *Store {
	s := &Store{st: st, now: opt.Now, log: opt.Log, bus: opt.Bus}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	s.SetDefaultLocale(opt.DefaultLocale)
	return s
}

// SetDefaultLocale changes the fallback locale used by ListActive.
func (s *Store) SetDefaultLocale(locale string) {
	s.defLocale.Store(strings.ToLower(strings.TrimSpace(locale)))
}

func (s *Store) DefaultLocale() string {
	v, _ := s.defLocale.Load().(string)
	return v
}

// NormalizeBody lower-cases locale keys and drops blank texts.
func NormalizeBody(body map[string]string) map[string]string {
	out := make(map[string]string, len(body))
	for loc, text := range body {
		loc = strings.ToLower(strings.TrimSpace(loc))
		text = strings.TrimSpace(text)
		if loc == "" || text == "" {
			continue
		}
		out[loc] = text
	}
	return out
}

// Publish creates an alert. ttl <= 0 means it never expires.
func (s *Store) Publish(ctx context.Context, kind Kind, body map[string]string, ttl time.Duration) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
	body = NormalizeBody(body)
	if len(body) == 0 {
		return "", fmt.Errorf("%w: body has no text", ErrInvalid)
	}

	now := s.now()
	a := Alert{ID: uuid.NewString(), CreatedAt: now, Kind: kind, Body: body}
	if ttl > 0 {
		exp := now.Add(ttl)
		a.ExpiresAt = &exp
	}
	if err := storage.PutJSON(ctx, s.st, storage.Alerts, a.ID, a); err != nil {
		return "", fmt.Errorf("publish alert: %w", err)
	}
	s.log.Info("alert published", logx.String("id", a.ID), logx.String("kind", string(kind)), logx.Duration("ttl", ttl))
	s.bus.Publish(eventbus.Event{Type: eventbus.AlertPublished, Target: a.ID, Data: string(kind)})
	return a.ID, nil
}

// Get returns ErrNotFound for a missing or expired alert.
func (s *Store) Get(ctx context.Context, id string) (Alert, error) {
	var a Alert
	ok, err := storage.GetJSON(ctx, s.st, storage.Alerts, id, &a)
	if err != nil {
		return Alert{}, err
	}
	if !ok || a.Expired(s.now()) {
		return Alert{}, ErrNotFound
	}
	return a, nil
}

// Active returns every unexpired alert, newest first.
func (s *Store) Active(ctx context.Context) ([]Alert, error) {
	all, err := storage.ListJSON[Alert](ctx, s.st, storage.Alerts)
	if err != nil && all == nil {
		return nil, err
	}
	if err != nil {
		s.log.Warn("skipping unreadable alerts", logx.Err(err))
	}
	now := s.now()
	out := make([]Alert, 0, len(all))
	for _, a := range all {
		if a.Expired(now) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListActive resolves every active alert for locale, newest first.
func (s *Store) ListActive(ctx context.Context, locale string) ([]Entry, error) {
	active, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	def := s.DefaultLocale()
	out := make([]Entry, 0, len(active))
	for _, a := range active {
		text, _ := Text(a.Body, locale, def)
		out = append(out, Entry{ID: a.ID, CreatedAt: a.CreatedAt, Kind: a.Kind, Text: text, ExpiresAt: a.ExpiresAt})
	}
	return out, nil
}

// Sweep deletes expired alerts and reports how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	all, err := s.st.List(ctx, storage.Alerts)
	if err != nil {
		return 0, err
	}
	now := s.now()
	removed := 0
	for id := range all {
		var gone bool
		err := storage.UpdateJSON(ctx, s.st, storage.Alerts, id, func(a *Alert, exists bool) (storage.Op, error) {
			gone = false
			if !exists || !a.Expired(now) {
				return storage.OpKeep, nil
			}
			gone = true
			return storage.OpDelete, nil
		})
		if err != nil {
			s.log.Warn("alert sweep failed", logx.String("id", id), logx.Err(err))
			continue
		}
		if gone {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("expired alerts swept", logx.Int("removed", removed))
		s.bus.Publish(eventbus.Event{Type: eventbus.AlertsSwept, Data: removed})
	}
	return removed, nil
}

// Text picks the body for locale: exact match, then the base language
// ("en" for "en-us"), then def, then the lexicographically first locale.
func Text(body map[string]string, locale, def string) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	locale = strings.ToLower(strings.TrimSpace(locale))
	candidates := []string{locale}
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		candidates = append(candidates, locale[:i])
	}
	candidates = append(candidates, def)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t := body[c]; t != "" {
			return t, true
		}
	}
	keys := make([]string, 0, len(body))
	for k, v := range body {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Strings(keys)
	return body[keys[0]], true
}
