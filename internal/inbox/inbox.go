// Package inbox tracks each user's disposition of each alert.
//
// Per (user, alert):
//
//	UNSEEN --open--> SEEN --ignore--> IGNORED
//	UNSEEN --ignore--> IGNORED
//	(UNSEEN|SEEN) --delete--> DELETED
//
// IGNORED and DELETED are terminal and exclusive: whichever is recorded
// first wins. Seen is recorded independently of both. Every mark is
// idempotent.
package inbox

import (
	"context"
	"strconv"
	"time"

	"alertbot/internal/alerts"
	"alertbot/internal/eventbus"
	"alertbot/internal/storage"
	logx "alertbot/pkg/logx"
)

type Disposition string

const (
	Unseen  Disposition = "unseen"
	Seen    Disposition = "seen"
	Ignored Disposition = "ignored"
	Deleted Disposition = "deleted"
)

// State is the per-user record. Map values record when each mark happened.
type State struct {
	Seen    map[string]time.Time `json:"seen,omitempty"`
	Ignored map[string]time.Time `json:"ignored,omitempty"`
	Deleted map[string]time.Time `json:"deleted,omitempty"`
}

func (s State) IsSeen(alertID string) bool {
	_, ok := s.Seen[alertID]
	return ok
}

// Dismissed reports whether the alert was ignored or deleted.
func (s State) Dismissed(alertID string) bool {
	_, ig := s.Ignored[alertID]
	_, del := s.Deleted[alertID]
	return ig || del
}

// Disposition returns the terminal state first, then seen, then unseen.
func (s State) Disposition(alertID string) Disposition {
	if _, ok := s.Deleted[alertID]; ok {
		return Deleted
	}
	if _, ok := s.Ignored[alertID]; ok {
		return Ignored
	}
	if s.IsSeen(alertID) {
		return Seen
	}
	return Unseen
}

// AlertSource lists active alerts for a locale, newest first.
type AlertSource interface {
	ListActive(ctx context.Context, locale string) ([]alerts.Entry, error)
}

// Entry is a visible inbox row.
type Entry struct {
	alerts.Entry
	Seen bool `json:"seen"`
}

type Options struct {
	Now func() time.Time
	Log logx.Logger
	Bus eventbus.Bus
}

type Tracker struct {
	st     storage.Store
	alerts AlertSource
	now    func() time.Time
	log    logx.Logger
	bus    eventbus.Bus
}

func New(st storage.Store, src AlertSource, opt Options) *Tracker {
	t := &Tracker{st: st, alerts: src, now: opt.Now, log: opt.Log, bus: opt.Bus}
	if t.now == nil {
		t.now = time.Now
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	if t.bus == nil {
		t.bus = eventbus.Nop()
	}
	return t
}

func key(userID int64) string { return strconv.FormatInt(userID, 10) }

// GetState returns the user's state, empty when nothing was recorded yet.
func (t *Tracker) GetState(ctx context.Context, userID int64) (State, error) {
	var s State
	if _, err := storage.GetJSON(ctx, t.st, storage.Inbox, key(userID), &s); err != nil {
		return State{}, err
	}
	return s, nil
}

func (t *Tracker) MarkSeen(ctx context.Context, userID int64, alertID string) error {
	return t.mark(ctx, userID, alertID, Seen)
}

func (t *Tracker) MarkIgnored(ctx context.Context, userID int64, alertID string) error {
	return t.mark(ctx, userID, alertID, Ignored)
}

func (t *Tracker) MarkDeleted(ctx context.Context, userID int64, alertID string) error {
	return t.mark(ctx, userID, alertID, Deleted)
}

func (t *Tracker) mark(ctx context.Context, userID int64, alertID string, d Disposition) error {
	now := t.now()
	changed := false
	err := storage.UpdateJSON(ctx, t.st, storage.Inbox, key(userID), func(s *State, _ bool) (storage.Op, error) {
		changed = false
		var set *map[string]time.Time
		switch d {
		case Seen:
			if s.IsSeen(alertID) {
				return storage.OpKeep, nil
			}
			set = &s.Seen
		case Ignored, Deleted:
			if s.Dismissed(alertID) {
				return storage.OpKeep, nil
			}
			set = &s.Ignored
			if d == Deleted {
				set = &s.Deleted
			}
		}
		if *set == nil {
			*set = map[string]time.Time{}
		}
		(*set)[alertID] = now
		changed = true
		return storage.OpPut, nil
	})
	if err != nil {
		return err
	}
	if changed {
		t.log.Debug("inbox mark", logx.Int64("user_id", userID), logx.String("alert_id", alertID), logx.String("disposition", string(d)))
		t.bus.Publish(eventbus.Event{Type: eventbus.InboxChanged, ActorID: userID, Target: alertID, Data: string(d)})
	}
	return nil
}

// Visible lists the user's active alerts minus ignored and deleted ones.
func (t *Tracker) Visible(ctx context.Context, userID int64, locale string) ([]Entry, error) {
	active, err := t.alerts.ListActive(ctx, locale)
	if err != nil {
		return nil, err
	}
	s, err := t.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(active))
	for _, a := range active {
		if s.Dismissed(a.ID) {
			continue
		}
		out = append(out, Entry{Entry: a, Seen: s.IsSeen(a.ID)})
	}
	return out, nil
}

// Prune drops marks for alerts missing from active and returns how many
// users were rewritten. active is a snapshot taken at asOf; marks recorded
// after it may point at alerts published since and are kept.
func (t *Tracker) Prune(ctx context.Context, active map[string]struct{}, asOf time.Time) (int, error) {
	raw, err := t.st.List(ctx, storage.Inbox)
	if err != nil {
		return 0, err
	}
	touched := 0
	for k := range raw {
		pruned := false
		err := storage.UpdateJSON(ctx, t.st, storage.Inbox, k, func(s *State, exists bool) (storage.Op, error) {
			pruned = false
			if !exists {
				return storage.OpKeep, nil
			}
			for _, m := range []map[string]time.Time{s.Seen, s.Ignored, s.Deleted} {
				for id, at := range m {
					if at.After(asOf) {
						continue
					}
					if _, ok := active[id]; !ok {
						delete(m, id)
						pruned = true
					}
				}
			}
			if !pruned {
				return storage.OpKeep, nil
			}
			if len(s.Seen)+len(s.Ignored)+len(s.Deleted) == 0 {
				return storage.OpDelete, nil
			}
			return storage.OpPut, nil
		})
		if err != nil {
			t.log.Warn("inbox prune failed", logx.String("user", k), logx.Err(err))
			continue
		}
		if pruned {
			touched++
		}
	}
	return touched, nil
}
