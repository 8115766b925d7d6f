// Package subscriptions decides who receives a broadcast.
//
// A user with no record counts as subscribed. Only an explicit false record
// suppresses delivery, including in the known-users fallback.
package subscriptions

import (
	"context"
	"sort"
	"strconv"
	"time"

	"alertbot/internal/eventbus"
	"alertbot/internal/storage"
	logx "alertbot/pkg/logx"
)

type Record struct {
	UserID     int64     `json:"user_id"`
	Subscribed bool      `json:"subscribed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// KnownUsers is the fallback recipient source.
type KnownUsers interface {
	AllKnownIDs(ctx context.Context) ([]int64, error)
}

type Options struct {
	Known KnownUsers
	Now   func() time.Time
	Log   logx.Logger
	Bus   eventbus.Bus
}

type Registry struct {
	st    storage.Store
	known KnownUsers
	now   func() time.Time
	log   logx.Logger
	bus   eventbus.Bus
}

func New(st storage.Store, opt Options) *Registry {
	r := &Registry{st: st, known: opt.Known, now: opt.Now, log: opt.Log, bus: opt.Bus}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	if r.bus == nil {
		r.bus = eventbus.Nop()
	}
	return r
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

// Observe creates a subscribed record the first time a user shows up.
// An existing record, including an explicit opt-out, is left alone.
func (r *Registry) Observe(ctx context.Context, userID int64) error {
	now := r.now()
	return storage.UpdateJSON(ctx, r.st, storage.Subscriptions, key(userID), func(rec *Record, exists bool) (storage.Op, error) {
		if exists {
			return storage.OpKeep, nil
		}
		*rec = Record{UserID: userID, Subscribed: true, UpdatedAt: now}
		return storage.OpPut, nil
	})
}

func (r *Registry) SetSubscribed(ctx context.Context, userID int64, on bool) error {
	rec := Record{UserID: userID, Subscribed: on, UpdatedAt: r.now()}
	if err := storage.PutJSON(ctx, r.st, storage.Subscriptions, key(userID), rec); err != nil {
		return err
	}
	r.log.Info("subscription changed", logx.Int64("user_id", userID), logx.Bool("subscribed", on))
	r.bus.Publish(eventbus.Event{Type: eventbus.SubscriptionChanged, ActorID: userID, Target: key(userID), Data: on})
	return nil
}

// IsSubscribed treats a missing record as subscribed.
func (r *Registry) IsSubscribed(ctx context.Context, userID int64) (bool, error) {
	var rec Record
	ok, err := storage.GetJSON(ctx, r.st, storage.Subscriptions, key(userID), &rec)
	if err != nil {
		return false, err
	}
	return !ok || rec.Subscribed, nil
}

// ResolveRecipients returns explicit opt-ins. With none recorded it falls
// back to every known user. Opted-out users are never returned.
// The result is sorted ascending.
func (r *Registry) ResolveRecipients(ctx context.Context) ([]int64, error) {
	recs, err := storage.ListJSON[Record](ctx, r.st, storage.Subscriptions)
	if err != nil && recs == nil {
		return nil, err
	}
	if err != nil {
		r.log.Warn("skipping unreadable subscription records", logx.Err(err))
	}

	optedOut := map[int64]struct{}{}
	var out []int64
	for k, rec := range recs {
		id := rec.UserID
		if id == 0 {
			id, _ = strconv.ParseInt(k, 10, 64)
		}
		if rec.Subscribed {
			out = append(out, id)
		} else {
			optedOut[id] = struct{}{}
		}
	}

	if len(out) == 0 && r.known != nil {
		all, err := r.known.AllKnownIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range all {
			if _, no := optedOut[id]; !no {
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
