package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	kit "alertbot/internal/transport"
)

type echoLabels struct{}

func (echoLabels) T(_, key string, _ ...string) string { return key }

func TestButtonsRoundTrip(t *testing.T) {
	rows := NotificationButtons(echoLabels{}, "en", "a1")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	want := []struct {
		a  Action
		id string
	}{{ActionOpen, "a1"}, {ActionIgnore, "a1"}, {ActionLater, "a1"}, {ActionInbox, ""}}
	var got []kit.Button
	for _, r := range rows {
		got = append(got, r...)
	}
	for i, w := range want {
		a, id, ok := ParseAction(got[i].Data)
		if !ok || a != w.a || id != w.id {
			t.Fatalf("button %d: got (%s,%q,%v), want (%s,%q)", i, a, id, ok, w.a, w.id)
		}
	}
}

func TestParseActionRejects(t *testing.T) {
	for _, d := range []string{"", "menu:open:x", "alert:explode:x", "alert:open"} {
		if _, _, ok := ParseAction(d); ok {
			t.Fatalf("expected %q to be rejected", d)
		}
	}
}

type fakeAdapter struct {
	kit.Adapter
	err error
}

func (f fakeAdapter) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, f.err
}

type classifyingAdapter struct{ fakeAdapter }

func (classifyingAdapter) ClassifyError(err error) error {
	return fmt.Errorf("%w: %v", ErrBlocked, err)
}

func TestChatClassifies(t *testing.T) {
	ctx := context.Background()
	raw := errors.New("forbidden")

	_, err := NewChat(fakeAdapter{err: raw}).Send(ctx, 1, "x", nil)
	if Classify(err) != OutcomeFailed {
		t.Fatalf("unclassified adapter error should count as failed, got %v", err)
	}
	_, err = NewChat(classifyingAdapter{fakeAdapter{err: raw}}).Send(ctx, 1, "x", nil)
	if Classify(err) != OutcomeBlocked {
		t.Fatalf("expected blocked, got %v", err)
	}
	if Classify(nil) != OutcomeSent || Classify(context.Canceled) != OutcomeFailed {
		t.Fatalf("unexpected outcome mapping")
	}
}
