package tgui

import (
	tele "gopkg.in/telebot.v4"

	kit "alertbot/internal/transport"
)

// Keyboard builds inline keyboards as transport buttons so callers stay
// independent of telebot.
type Keyboard struct {
	rows [][]kit.Button
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

// Row appends a row. Empty rows are skipped.
func (k *Keyboard) Row(btns ...kit.Button) *Keyboard {
	if len(btns) > 0 {
		k.rows = append(k.rows, btns)
	}
	return k
}

func (k *Keyboard) Rows() [][]kit.Button { return k.rows }

func Btn(text, data string) kit.Button { return kit.Button{Text: text, Data: data} }

// Markup renders rows as a telebot inline keyboard. It returns nil for no rows.
func Markup(rows [][]kit.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		btns := make([]tele.Btn, 0, len(r))
		for _, b := range r {
			btns = append(btns, tele.Btn{Text: b.Text, Data: b.Data})
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Inline(out...)
	return rm
}
