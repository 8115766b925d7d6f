package router

import (
	"context"
	"testing"
	"time"

	kit "alertbot/internal/transport"
	"alertbot/internal/transport/transporttest"
	logx "alertbot/pkg/logx"
)

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: from, FromID: from, Text: text, IsPrivate: true}}
}

func TestRouteMessage(t *testing.T) {
	ad := transporttest.New()
	r := New(logx.Nop(), ad, []int64{1})

	var got []string
	r.SetRegistry(context.Background(), []Command{
		{Name: "inbox", Aliases: []string{"in"}, Handle: func(_ context.Context, req *Request) error {
			got = append(got, "inbox:"+req.LanguageCode)
			return nil
		}},
		{Name: "alerts_stats", Access: AccessOwnerOnly, Handle: func(_ context.Context, req *Request) error {
			got = append(got, "stats")
			return nil
		}},
		{Name: "panic", Handle: func(context.Context, *Request) error { panic("boom") }},
	}, nil)
	r.SetUnknown(func(_ context.Context, req *Request) error {
		got = append(got, "unknown:"+req.Command)
		return nil
	})

	ctx := context.Background()
	up := msg(2, "/inbox@alertbot extra")
	up.Message.LanguageCode = "ar"
	r.Handle(ctx, up)
	r.Handle(ctx, msg(2, "/in"))
	r.Handle(ctx, msg(2, "/alerts_stats"))
	r.Handle(ctx, msg(1, "/alerts_stats"))
	r.Handle(ctx, msg(2, "/nope"))
	r.Handle(ctx, msg(2, "hello"))
	r.Handle(ctx, msg(2, "/panic"))

	want := []string{"inbox:ar", "inbox:", "stats", "unknown:nope"}
	if len(got) != len(want) {
		t.Fatalf("handled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handled[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	sent := ad.Sent()
	if len(sent) != 1 || sent[0].Text != "unauthorized" {
		t.Fatalf("sent = %+v, want one unauthorized reply", sent)
	}
}

func TestPrivateOnlyIgnoredInGroups(t *testing.T) {
	ad := transporttest.New()
	r := New(logx.Nop(), ad, nil)
	called := false
	r.SetRegistry(context.Background(), []Command{{Name: "start", PrivateOnly: true, Handle: func(context.Context, *Request) error {
		called = true
		return nil
	}}}, nil)

	up := msg(5, "/start")
	up.Message.IsPrivate = false
	r.Handle(context.Background(), up)
	if called {
		t.Fatalf("private-only command ran in a group")
	}
}

func TestRouteCallback(t *testing.T) {
	ad := transporttest.New()
	r := New(logx.Nop(), ad, []int64{1})

	var payload string
	r.SetRegistry(context.Background(), nil, []CallbackRoute{
		{Scope: "alert", Action: "open", Handle: func(_ context.Context, req *Request) error {
			payload = req.Payload
			req.Toast = "opened"
			return nil
		}},
		{Scope: "admin", Action: "wipe", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error {
			t.Fatalf("owner-only callback ran for a stranger")
			return nil
		}},
	})

	ctx := context.Background()
	r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 2, ChatID: 2, MessageID: 9, Data: "alert:open:abc"}})
	r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c2", FromID: 2, Data: "admin:wipe"}})
	r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c3", FromID: 2, Data: "garbage"}})

	if payload != "abc" {
		t.Fatalf("payload = %q, want abc", payload)
	}
	answers := ad.Answers()
	want := []transporttest.Answer{{CallbackID: "c1", Text: "opened"}, {CallbackID: "c2", Text: "forbidden"}, {CallbackID: "c3", Text: ""}}
	if len(answers) != len(want) {
		t.Fatalf("answers = %+v", answers)
	}
	for i := range want {
		if answers[i] != want[i] {
			t.Fatalf("answer[%d] = %+v, want %+v", i, answers[i], want[i])
		}
	}
}

func TestDispatchLoop(t *testing.T) {
	ad := transporttest.New()
	r := New(logx.Nop(), ad, nil)
	done := make(chan struct{})
	r.SetRegistry(context.Background(), []Command{{Name: "ping", Handle: func(_ context.Context, req *Request) error {
		_, err := req.Reply(context.Background(), "pong", nil)
		close(done)
		return err
	}}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	loopDone := make(chan error, 1)
	go func() { loopDone <- r.DispatchLoop(ctx, updates) }()

	updates <- msg(3, "/ping")
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("handler never ran")
	}
	cancel()
	select {
	case err := <-loopDone:
		if err != nil {
			t.Fatalf("DispatchLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("DispatchLoop did not stop")
	}
	if sent := ad.Sent(); len(sent) != 1 || sent[0].Text != "pong" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestBuildMenu(t *testing.T) {
	t.Parallel()

	menu := buildMenu([]Command{
		{Name: "alerts_jobs", Description: "queued broadcasts", Access: AccessOwnerOnly},
		{Name: "Inbox", Description: "your alerts"},
		{Name: "sub-scribe"},
	})
	want := []kit.BotCommand{
		{Command: "inbox", Description: "your alerts"},
		{Command: "sub_scribe", Description: "sub_scribe"},
		{Command: "alerts_jobs", Description: "🔒 queued broadcasts"},
	}
	if len(menu) != len(want) {
		t.Fatalf("menu = %+v", menu)
	}
	for i := range want {
		if menu[i] != want[i] {
			t.Fatalf("menu[%d] = %+v, want %+v", i, menu[i], want[i])
		}
	}
}
