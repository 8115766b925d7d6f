// Package users tracks every user the bot has seen and their locale.
//
// It is the known-users provider behind recipient fallback and the locale
// resolver used by the broadcast engine and reminders.
package users

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"alertbot/internal/storage"
	logx "alertbot/pkg/logx"
)

type User struct {
	ID        int64     `json:"id"`
	Locale    string    `json:"locale,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type Registry struct {
	st  storage.Store
	now func() time.Time
	log logx.Logger
}

func New(st storage.Store, now func() time.Time, log logx.Logger) *Registry {
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{st: st, now: now, log: log}
}

func Key(id int64) string { return strconv.FormatInt(id, 10) }

// Touch records activity from id. An empty locale keeps the stored one.
// It reports whether this is the first time the user is seen.
func (r *Registry) Touch(ctx context.Context, id int64, locale string) (bool, error) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	now := r.now()
	first := false
	err := storage.UpdateJSON(ctx, r.st, storage.Users, Key(id), func(u *User, exists bool) (storage.Op, error) {
		first = !exists
		if !exists {
			u.ID = id
			u.FirstSeen = now
		}
		u.LastSeen = now
		if locale != "" {
			u.Locale = locale
		}
		return storage.OpPut, nil
	})
	if err != nil {
		return false, err
	}
	if first {
		r.log.Debug("new user", logx.Int64("user_id", id), logx.String("locale", locale))
	}
	return first, nil
}

// SetLocale overrides the locale of an existing or new user.
func (r *Registry) SetLocale(ctx context.Context, id int64, locale string) error {
	_, err := r.Touch(ctx, id, locale)
	return err
}

func (r *Registry) Get(ctx context.Context, id int64) (User, bool, error) {
	var u User
	ok, err := storage.GetJSON(ctx, r.st, storage.Users, Key(id), &u)
	return u, ok, err
}

// LocaleFor returns the stored locale, or "" when unknown.
// Lookup failures are logged and treated as unknown.
func (r *Registry) LocaleFor(ctx context.Context, id int64) string {
	u, ok, err := r.Get(ctx, id)
	if err != nil {
		r.log.Warn("locale lookup failed", logx.Int64("user_id", id), logx.Err(err))
		return ""
	}
	if !ok {
		return ""
	}
	return u.Locale
}

// AllKnownIDs returns every known user id in ascending order.
func (r *Registry) AllKnownIDs(ctx context.Context) ([]int64, error) {
	raw, err := r.st.List(ctx, storage.Users)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(raw))
	for k := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
