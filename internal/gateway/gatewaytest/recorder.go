// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"sync"
	"time"

	kit "alertbot/internal/transport"
)

type Sent struct {
	UserID int64
	Text   string
	Rows   [][]kit.Button
	Ref    kit.MessageRef
	At     time.Time
}

// Recorder records every Send/Delete. Fail maps user ids to the error Send returns.
type Recorder struct {
	mu      sync.Mutex
	nextID  int
	sent    []Sent
	deleted []kit.MessageRef

	Fail map[int64]error
}

func New() *Recorder { return &Recorder{Fail: map[int64]error{}} }

func (r *Recorder) Send(ctx context.Context, userID int64, text string, rows [][]kit.Button) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[userID]; err != nil {
		return kit.MessageRef{}, err
	}
	r.nextID++
	ref := kit.MessageRef{ChatID: userID, MessageID: r.nextID}
	r.sent = append(r.sent, Sent{UserID: userID, Text: text, Rows: rows, Ref: ref, At: time.Now()})
	return ref, nil
}

func (r *Recorder) Delete(ctx context.Context, ref kit.MessageRef) error {
	r.mu.Lock()
	r.deleted = append(r.deleted, ref)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

func (r *Recorder) Deleted() []kit.MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kit.MessageRef(nil), r.deleted...)
}
