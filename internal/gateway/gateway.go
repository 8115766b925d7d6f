// Package gateway is the outbound message contract used by broadcasts and reminders.
//
// Delivery failures are classified into ErrBlocked (recipient unreachable) and
// ErrRejected (malformed or refused request). Callers record both as failed and
// never retry.
package gateway

import (
	"context"
	"errors"

	kit "alertbot/internal/transport"
)

var (
	ErrBlocked  = errors.New("recipient unreachable")
	ErrRejected = errors.New("message rejected")
)

// Gateway sends a message to a user's private chat and can delete it later.
type Gateway interface {
	Send(ctx context.Context, userID int64, text string, rows [][]kit.Button) (kit.MessageRef, error)
	Delete(ctx context.Context, ref kit.MessageRef) error
}

// Classifier is implemented by adapters that can map platform errors onto
// ErrBlocked / ErrRejected.
type Classifier interface {
	ClassifyError(err error) error
}

// Chat adapts a transport.Adapter into a Gateway.
type Chat struct {
	adapter kit.Adapter
}

func NewChat(adapter kit.Adapter) *Chat {
	return &Chat{adapter: adapter}
}

func (c *Chat) Send(ctx context.Context, userID int64, text string, rows [][]kit.Button) (kit.MessageRef, error) {
	ref, err := c.adapter.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, &kit.SendOptions{
		DisablePreview: true,
		Keyboard:       rows,
	})
	if err != nil {
		return kit.MessageRef{}, c.classify(err)
	}
	return ref, nil
}

func (c *Chat) Delete(ctx context.Context, ref kit.MessageRef) error {
	if err := c.adapter.DeleteMessage(ctx, ref); err != nil {
		return c.classify(err)
	}
	return nil
}

// classify leaves context errors and unknown failures untouched; they count
// as failed without a specific cause.
func (c *Chat) classify(err error) error {
	if errors.Is(err, ErrBlocked) || errors.Is(err, ErrRejected) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if cl, ok := c.adapter.(Classifier); ok {
		return cl.ClassifyError(err)
	}
	return err
}

// Outcome buckets a send error the way broadcast stats count it.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeBlocked
	OutcomeRejected
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSent
	case errors.Is(err, ErrBlocked):
		return OutcomeBlocked
	case errors.Is(err, ErrRejected):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
