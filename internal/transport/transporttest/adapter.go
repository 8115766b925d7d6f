// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "alertbot/internal/transport"
)

type Message struct {
	Ref  kit.MessageRef
	Text string
	Opts kit.SendOptions
}

type Answer struct {
	CallbackID string
	Text       string
}

// Adapter records outbound calls. Start and Stop are no-ops.
type Adapter struct {
	mu      sync.Mutex
	nextID  int
	sent    []Message
	edited  []Message
	deleted []kit.MessageRef
	answers []Answer
}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}
	m := Message{Ref: ref, Text: text}
	if opt != nil {
		m.Opts = *opt
	}
	a.sent = append(a.sent, m)
	return ref, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := Message{Ref: ref, Text: text}
	if opt != nil {
		m.Opts = *opt
	}
	a.edited = append(a.edited, m)
	return nil
}

func (a *Adapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	a.mu.Lock()
	a.deleted = append(a.deleted, ref)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) AnswerCallback(_ context.Context, id string, text string) error {
	a.mu.Lock()
	a.answers = append(a.answers, Answer{CallbackID: id, Text: text})
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Sent() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.sent...)
}

func (a *Adapter) Edited() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.edited...)
}

func (a *Adapter) Deleted() []kit.MessageRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.MessageRef(nil), a.deleted...)
}

func (a *Adapter) Answers() []Answer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Answer(nil), a.answers...)
}

// Reset forgets everything recorded so far.
func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent, a.edited, a.deleted, a.answers = nil, nil, nil, nil
	a.mu.Unlock()
}
