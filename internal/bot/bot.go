// Package bot is the Telegram face of alertbot: the inbox, subscription
// toggles, alert buttons and a couple of owner commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/gateway"
	"alertbot/internal/i18n"
	"alertbot/internal/inbox"
	"alertbot/internal/jobs"
	"alertbot/internal/transport/telegram/router"
	logx "alertbot/pkg/logx"
	"alertbot/pkg/tgui"
)

type Users interface {
	Touch(ctx context.Context, id int64, locale string) (bool, error)
	LocaleFor(ctx context.Context, id int64) string
}

type Subscriptions interface {
	Observe(ctx context.Context, userID int64) error
	SetSubscribed(ctx context.Context, userID int64, on bool) error
}

type Alerts interface {
	Get(ctx context.Context, id string) (alerts.Alert, error)
	DefaultLocale() string
}

type Inbox interface {
	Visible(ctx context.Context, userID int64, locale string) ([]inbox.Entry, error)
	MarkSeen(ctx context.Context, userID int64, alertID string) error
	MarkIgnored(ctx context.Context, userID int64, alertID string) error
	MarkDeleted(ctx context.Context, userID int64, alertID string) error
}

type Reminders interface {
	ScheduleDefault(userID int64, alertID string) time.Duration
}

type Stats interface {
	Stats(ctx context.Context) ([]broadcast.WeekStats, error)
}

type Jobs interface {
	List(ctx context.Context) ([]jobs.Job, error)
}

type Deps struct {
	Users         Users
	Subscriptions Subscriptions
	Alerts        Alerts
	Inbox         Inbox
	Reminders     Reminders
	Stats         Stats // optional
	Jobs          Jobs  // optional
	Translator    *i18n.Translator
	// Location renders owner-facing times. Defaults to UTC.
	Location *time.Location
	Log      logx.Logger
}

type Bot struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) *Bot {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Bot{d: d, log: log}
}

const handlerTimeout = 15 * time.Second

// inboxPreview is the rune budget of one inbox button.
const inboxPreview = 40

// Register installs the bot's commands and callbacks on r.
func (b *Bot) Register(ctx context.Context, r *router.Router) {
	r.SetRegistry(ctx, b.Commands(), b.Callbacks())
	r.SetUnknown(b.unknown)
}

func (b *Bot) Commands() []router.Command {
	cmds := []router.Command{
		{Name: "start", Description: "start receiving announcements", PrivateOnly: true, Timeout: handlerTimeout, Handle: b.start},
		{Name: "inbox", Description: "show current alerts", PrivateOnly: true, Timeout: handlerTimeout, Handle: b.inbox},
		{Name: "subscribe", Description: "receive announcements", PrivateOnly: true, Timeout: handlerTimeout, Handle: b.subscribe(true)},
		{Name: "unsubscribe", Aliases: []string{"stop"}, Description: "stop announcements", PrivateOnly: true, Timeout: handlerTimeout, Handle: b.subscribe(false)},
	}
	if b.d.Stats != nil {
		cmds = append(cmds, router.Command{Name: "alerts_stats", Description: "weekly delivery counters", Access: router.AccessOwnerOnly, Timeout: handlerTimeout, Handle: b.stats})
	}
	if b.d.Jobs != nil {
		cmds = append(cmds, router.Command{Name: "alerts_jobs", Description: "queued broadcasts", Access: router.AccessOwnerOnly, Timeout: handlerTimeout, Handle: b.jobs})
	}
	return cmds
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	route := func(a gateway.Action, h router.HandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Scope: gateway.Scope, Action: string(a), Timeout: handlerTimeout, Handle: h}
	}
	return []router.CallbackRoute{
		route(gateway.ActionOpen, b.open),
		route(gateway.ActionIgnore, b.dismiss(gateway.ActionIgnore)),
		route(gateway.ActionDelete, b.dismiss(gateway.ActionDelete)),
		route(gateway.ActionLater, b.later),
		route(gateway.ActionInbox, b.inboxCallback),
	}
}

func (b *Bot) t(locale, key string, params ...string) string {
	return b.d.Translator.T(locale, key, params...)
}

// locale prefers what the client reports and falls back to the stored one.
func (b *Bot) locale(ctx context.Context, req *router.Request) string {
	if lc := strings.TrimSpace(req.LanguageCode); lc != "" {
		return b.d.Translator.Normalize(lc)
	}
	return b.d.Translator.Normalize(b.d.Users.LocaleFor(ctx, req.FromID))
}

// touch records the user and, the first time, their default subscription.
func (b *Bot) touch(ctx context.Context, req *router.Request) error {
	first, err := b.d.Users.Touch(ctx, req.FromID, req.LanguageCode)
	if err != nil {
		return err
	}
	if first {
		return b.d.Subscriptions.Observe(ctx, req.FromID)
	}
	return nil
}

// failed answers a persistence error with a generic retry hint.
func (b *Bot) failed(ctx context.Context, req *router.Request, locale string, err error) error {
	msg := b.t(locale, i18n.KeyTryAgain)
	if req.CallbackID != "" {
		req.Toast = msg
	} else {
		_, _ = req.Reply(ctx, msg, nil)
	}
	return err
}

func (b *Bot) start(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req)
	if _, err := b.d.Users.Touch(ctx, req.FromID, req.LanguageCode); err != nil {
		return b.failed(ctx, req, loc, err)
	}
	if err := b.d.Subscriptions.Observe(ctx, req.FromID); err != nil {
		return b.failed(ctx, req, loc, err)
	}
	_, err := req.Reply(ctx, b.t(loc, i18n.KeyWelcome), nil)
	return err
}

func (b *Bot) subscribe(on bool) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		loc := b.locale(ctx, req)
		if err := b.touch(ctx, req); err != nil {
			return b.failed(ctx, req, loc, err)
		}
		if err := b.d.Subscriptions.SetSubscribed(ctx, req.FromID, on); err != nil {
			return b.failed(ctx, req, loc, err)
		}
		key := i18n.KeySubscribed
		if !on {
			key = i18n.KeyUnsubscribed
		}
		_, err := req.Reply(ctx, b.t(loc, key), nil)
		return err
	}
}

func (b *Bot) inbox(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req)
	if err := b.touch(ctx, req); err != nil {
		return b.failed(ctx, req, loc, err)
	}
	return b.renderInbox(ctx, req, loc)
}

func (b *Bot) inboxCallback(ctx context.Context, req *router.Request) error {
	return b.renderInbox(ctx, req, b.locale(ctx, req))
}

// renderInbox sends one message listing visible alerts, one button each.
func (b *Bot) renderInbox(ctx context.Context, req *router.Request, loc string) error {
	entries, err := b.d.Inbox.Visible(ctx, req.FromID, loc)
	if err != nil {
		return b.failed(ctx, req, loc, err)
	}
	if len(entries) == 0 {
		_, err := req.Reply(ctx, b.t(loc, i18n.KeyInboxEmpty), nil)
		return err
	}
	kb := tgui.NewKeyboard()
	for _, e := range entries {
		data, derr := tgui.Data(gateway.Scope, string(gateway.ActionOpen), e.ID)
		if derr != nil {
			continue
		}
		kb.Row(tgui.Btn(inboxLabel(b.d.Translator, loc, e), data))
	}
	_, err = req.Reply(ctx, b.t(loc, i18n.KeyInboxHeader, strconv.Itoa(len(entries))), kb.Rows())
	return err
}

func inboxLabel(tr *i18n.Translator, loc string, e inbox.Entry) string {
	mark := "🆕"
	if e.Seen {
		mark = "✓"
	}
	text := strings.Join(strings.Fields(e.Text), " ")
	return mark + " " + tr.Kind(loc, string(e.Kind)) + " · " + tgui.TruncRunes(text, inboxPreview)
}

func (b *Bot) open(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req)
	a, err := b.d.Alerts.Get(ctx, req.Payload)
	if errors.Is(err, alerts.ErrNotFound) {
		req.Toast = b.t(loc, i18n.KeyExpired)
		return nil
	}
	if err != nil {
		return b.failed(ctx, req, loc, err)
	}
	if err := b.d.Inbox.MarkSeen(ctx, req.FromID, a.ID); err != nil {
		return b.failed(ctx, req, loc, err)
	}
	text, _ := alerts.Text(a.Body, loc, b.d.Alerts.DefaultLocale())
	_, err = req.Reply(ctx, text, gateway.OpenedButtons(b.d.Translator, loc, a.ID))
	return err
}

func (b *Bot) dismiss(action gateway.Action) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		loc := b.locale(ctx, req)
		mark, key := b.d.Inbox.MarkIgnored, i18n.KeyIgnored
		if action == gateway.ActionDelete {
			mark, key = b.d.Inbox.MarkDeleted, i18n.KeyDeleted
		}
		if err := mark(ctx, req.FromID, req.Payload); err != nil {
			return b.failed(ctx, req, loc, err)
		}
		req.Toast = b.t(loc, key)
		if req.MessageID != 0 {
			if err := req.Adapter.DeleteMessage(ctx, req.Message()); err != nil {
				req.Logger.Debug("delete dismissed message failed", logx.Err(err))
			}
		}
		return nil
	}
}

func (b *Bot) later(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req)
	if _, err := b.d.Alerts.Get(ctx, req.Payload); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			req.Toast = b.t(loc, i18n.KeyExpired)
			return nil
		}
		return b.failed(ctx, req, loc, err)
	}
	d := b.d.Reminders.ScheduleDefault(req.FromID, req.Payload)
	req.Logger.Debug("reminder requested", logx.String("alert_id", req.Payload), logx.Duration("delay", d))
	req.Toast = b.t(loc, i18n.KeyRemindLater)
	return nil
}

func (b *Bot) unknown(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, b.t(b.locale(ctx, req), i18n.KeyUnknown), nil)
	return err
}

func (b *Bot) stats(ctx context.Context, req *router.Request) error {
	weeks, err := b.d.Stats.Stats(ctx)
	if err != nil {
		_, _ = req.Reply(ctx, "stats unavailable: "+err.Error(), nil)
		return err
	}
	_, err = req.Reply(ctx, FormatStats(weeks, 8), nil)
	return err
}

func (b *Bot) jobs(ctx context.Context, req *router.Request) error {
	list, err := b.d.Jobs.List(ctx)
	if err != nil {
		_, _ = req.Reply(ctx, "jobs unavailable: "+err.Error(), nil)
		return err
	}
	_, err = req.Reply(ctx, FormatJobs(list, b.d.Location), nil)
	return err
}

// FormatStats renders the newest n weeks, one line each.
func FormatStats(weeks []broadcast.WeekStats, n int) string {
	if len(weeks) == 0 {
		return "no broadcasts yet"
	}
	if n > 0 && len(weeks) > n {
		weeks = weeks[:n]
	}
	var sb strings.Builder
	for i, w := range weeks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %d broadcasts", w.Week, w.Broadcasts)
		kinds := make([]string, 0, len(w.Sent))
		for k := range w.Sent {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&sb, ", %s=%d", k, w.Sent[alerts.Kind(k)])
		}
	}
	return sb.String()
}

// FormatJobs renders queued jobs in due order.
func FormatJobs(list []jobs.Job, loc *time.Location) string {
	if len(list) == 0 {
		return "no scheduled broadcasts"
	}
	var sb strings.Builder
	for i, j := range list {
		if i > 0 {
			sb.WriteByte('\n')
		}
		state := ""
		if j.Claimed() {
			state = " (firing)"
		}
		fmt.Fprintf(&sb, "%s  %s  %s%s", j.DueAt.In(loc).Format("2006-01-02 15:04"), j.Kind, j.ID, state)
	}
	return sb.String()
}
