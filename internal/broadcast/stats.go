package broadcast

import (
	"context"
	"sort"

	"alertbot/internal/alerts"
	"alertbot/internal/storage"
)

// reserve counts one broadcast for week, refusing with ErrWeeklyCap when
// max > 0 and the week is full. The check and the increment are one
// atomic update.
func reserve(ctx context.Context, st storage.Store, week string, max int, force bool) error {
	return storage.UpdateJSON(ctx, st, storage.Stats, week, func(ws *WeekStats, _ bool) (storage.Op, error) {
		if !force && max > 0 && ws.Broadcasts >= max {
			return storage.OpKeep, ErrWeeklyCap
		}
		ws.Week = week
		ws.Broadcasts++
		return storage.OpPut, nil
	})
}

// release undoes reserve after a broadcast failed before any send.
func release(ctx context.Context, st storage.Store, week string) error {
	return storage.UpdateJSON(ctx, st, storage.Stats, week, func(ws *WeekStats, exists bool) (storage.Op, error) {
		if !exists || ws.Broadcasts == 0 {
			return storage.OpKeep, nil
		}
		ws.Broadcasts--
		return storage.OpPut, nil
	})
}

// addSent increments the week's counter for kind. Counters never decrease.
func addSent(ctx context.Context, st storage.Store, week string, kind alerts.Kind, n int) error {
	if n <= 0 {
		return nil
	}
	return storage.UpdateJSON(ctx, st, storage.Stats, week, func(ws *WeekStats, _ bool) (storage.Op, error) {
		ws.Week = week
		if ws.Sent == nil {
			ws.Sent = map[alerts.Kind]int{}
		}
		ws.Sent[kind] += n
		return storage.OpPut, nil
	})
}

// Stats returns every recorded week, newest first.
func (e *Engine) Stats(ctx context.Context) ([]WeekStats, error) {
	all, err := storage.ListJSON[WeekStats](ctx, e.st, storage.Stats)
	if err != nil && all == nil {
		return nil, err
	}
	out := make([]WeekStats, 0, len(all))
	for k, ws := range all {
		if ws.Week == "" {
			ws.Week = k
		}
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week > out[j].Week })
	return out, nil
}

// Week returns one week's counters; an unknown week is all zeros.
func (e *Engine) Week(ctx context.Context, week string) (WeekStats, error) {
	ws := WeekStats{Week: week}
	if _, err := storage.GetJSON(ctx, e.st, storage.Stats, week, &ws); err != nil {
		return WeekStats{}, err
	}
	return ws, nil
}
