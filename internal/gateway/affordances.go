package gateway

import (
	"alertbot/internal/i18n"
	kit "alertbot/internal/transport"
	"alertbot/pkg/tgui"
)

// Scope prefixes every alert callback: "alert:<action>[:<alert id>]".
const Scope = "alert"

type Action string

const (
	ActionOpen   Action = "open"
	ActionIgnore Action = "ignore"
	ActionDelete Action = "delete"
	ActionLater  Action = "later"
	ActionInbox  Action = "inbox"
)

func (a Action) valid() bool {
	switch a {
	case ActionOpen, ActionIgnore, ActionDelete, ActionLater, ActionInbox:
		return true
	}
	return false
}

// Labeler translates button labels.
type Labeler interface {
	T(locale, key string, params ...string) string
}

func button(l Labeler, locale, key string, a Action, alertID string) kit.Button {
	data, err := tgui.Data(Scope, string(a), alertID)
	if err != nil {
		data, _ = tgui.Data(Scope, string(ActionInbox), "")
	}
	return tgui.Btn(l.T(locale, key), data)
}

// NotificationButtons go on the short inbox-mode notification.
func NotificationButtons(l Labeler, locale, alertID string) [][]kit.Button {
	return tgui.NewKeyboard().
		Row(
			button(l, locale, i18n.KeyBtnOpen, ActionOpen, alertID),
			button(l, locale, i18n.KeyBtnIgnore, ActionIgnore, alertID),
		).
		Row(
			button(l, locale, i18n.KeyBtnLater, ActionLater, alertID),
			button(l, locale, i18n.KeyBtnInbox, ActionInbox, ""),
		).
		Rows()
}

// ReminderButtons go on a reminder: open, ignore, delete.
func ReminderButtons(l Labeler, locale, alertID string) [][]kit.Button {
	return tgui.NewKeyboard().
		Row(
			button(l, locale, i18n.KeyBtnOpen, ActionOpen, alertID),
			button(l, locale, i18n.KeyBtnIgnore, ActionIgnore, alertID),
			button(l, locale, i18n.KeyBtnDelete, ActionDelete, alertID),
		).
		Rows()
}

// OpenedButtons go under an alert's full text once opened.
func OpenedButtons(l Labeler, locale, alertID string) [][]kit.Button {
	return tgui.NewKeyboard().
		Row(
			button(l, locale, i18n.KeyBtnIgnore, ActionIgnore, alertID),
			button(l, locale, i18n.KeyBtnDelete, ActionDelete, alertID),
		).
		Row(button(l, locale, i18n.KeyBtnInbox, ActionInbox, "")).
		Rows()
}

// ParseAction decodes alert callback data.
func ParseAction(data string) (Action, string, bool) {
	cb, ok := tgui.Parse(data)
	if !ok || cb.Scope != Scope {
		return "", "", false
	}
	a := Action(cb.Action)
	if !a.valid() {
		return "", "", false
	}
	if a != ActionInbox && cb.Payload == "" {
		return "", "", false
	}
	return a, cb.Payload, true
}
