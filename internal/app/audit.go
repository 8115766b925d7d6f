package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"alertbot/internal/broadcast"
	"alertbot/internal/eventbus"
	"alertbot/internal/storage"
	logx "alertbot/pkg/logx"
)

// auditedEvents are the lifecycle events persisted to the audit log.
// Inbox marks and reminders are too frequent and stay out.
var auditedEvents = []string{
	eventbus.AlertPublished,
	eventbus.AlertsSwept,
	eventbus.BroadcastFinished,
	eventbus.BroadcastRefused,
	eventbus.JobScheduled,
	eventbus.JobFired,
	eventbus.JobCancelled,
	eventbus.SubscriptionChanged,
	eventbus.ConfigReloaded,
}

// auditEntry maps a bus event onto the storage audit schema.
func auditEntry(e eventbus.Event) storage.AuditEntry {
	ae := storage.AuditEntry{
		At:      e.Time,
		ActorID: e.ActorID,
		Source:  e.Source,
		Action:  e.Type,
		Target:  e.Target,
	}
	if ae.Source == "" {
		ae.Source = "app"
	}
	switch d := e.Data.(type) {
	case nil:
	case broadcast.Result:
		ae.OK = d.Sent
		ae.Fail = d.Failed
		ae.MetaJSON = fmt.Sprintf(`{"skipped":%d,"blocked":%d}`, d.Skipped, d.Blocked)
	case error:
		ae.Error = d.Error()
	case string:
		if e.Type == eventbus.BroadcastRefused {
			ae.Error = d
			break
		}
		ae.MetaJSON = fmt.Sprintf(`{"value":%q}`, d)
	default:
		if b, err := json.Marshal(d); err == nil {
			ae.MetaJSON = string(b)
		}
	}
	return ae
}

// runAudit copies audited events into st until ctx is done.
func runAudit(ctx context.Context, bus eventbus.Bus, st storage.Store, log logx.Logger) {
	events, unsub := bus.Subscribe(256, auditedEvents...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.String("target", e.Target))
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			if err := st.AppendAudit(wctx, auditEntry(e)); err != nil {
				log.Warn("audit append failed", logx.String("type", e.Type), logx.Err(err))
			}
			cancel()
		}
	}
}
