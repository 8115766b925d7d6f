// Package router dispatches Telegram updates to command and callback
// handlers on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "alertbot/internal/runtime/supervisor"
	kit "alertbot/internal/transport"
	logx "alertbot/pkg/logx"
	"alertbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string // without the leading slash
	Aliases     []string
	Description string
	Access      Access
	// PrivateOnly commands are ignored outside private chats.
	PrivateOnly bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	LanguageCode string
	Command      string
	Args         []string

	// Callback fields; zero for messages.
	CallbackID string
	MessageID  int
	Payload    string
	// Toast is shown to the user when the callback is answered.
	Toast string

	ReqID   string
	Adapter kit.Adapter
	Logger  logx.Logger
	IsOwner bool
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, rows [][]kit.Button) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, Keyboard: rows})
}

// Message is the message a callback button was attached to.
func (r *Request) Message() kit.MessageRef {
	return kit.MessageRef{ChatID: r.Chat.ChatID, ThreadID: r.Chat.ThreadID, MessageID: r.MessageID}
}

type Router struct {
	mu        sync.RWMutex
	cmds      map[string]Command
	callbacks map[string]map[string]CallbackRoute // scope -> action -> route
	owners    []int64
	unknown   HandlerFunc

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:      map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log,
		adapter:   adapter,
		jobs:      make(chan func(), 256),
	}
}

// Supervisor returns the worker pool supervisor, nil when not running.
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Router) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetUnknown handles private-chat commands that match nothing.
func (m *Router) SetUnknown(h HandlerFunc) {
	m.mu.Lock()
	m.unknown = h
	m.mu.Unlock()
}

// SetRegistry installs commands and callbacks and refreshes the Telegram
// command menu in the background.
func (m *Router) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	byName := map[string]Command{}
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
	}
	byScope := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		s, a := strings.TrimSpace(r.Scope), strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		if byScope[s] == nil {
			byScope[s] = map[string]CallbackRoute{}
		}
		byScope[s][a] = r
	}

	m.mu.Lock()
	m.cmds = byName
	m.callbacks = byScope
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(cmds)
		go func() {
			c, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(c, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (m *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup, m.running = sup, true
	m.runMu.Unlock()
	m.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up, func(fn func()) bool { return m.tryEnqueue(fn) })
		}
	}
}

// Handle routes one update and runs its handler on the calling goroutine.
func (m *Router) Handle(ctx context.Context, up kit.Update) {
	m.route(ctx, up, func(fn func()) bool { fn(); return true })
}

func (m *Router) route(ctx context.Context, up kit.Update, run func(func()) bool) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up, run)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up, run)
	}
}

func (m *Router) routeMessage(ctx context.Context, up kit.Update, run func(func()) bool) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	m.mu.RLock()
	cmd, ok := m.cmds[word]
	unknown := m.unknown
	m.mu.RUnlock()

	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		LanguageCode: msg.LanguageCode,
		Command:      word,
		Args:         parts[1:],
		ReqID:        newReqID(),
		Adapter:      m.adapter,
		IsOwner:      m.isOwner(msg.FromID),
	}
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", word),
	)

	var h HandlerFunc
	var timeout time.Duration
	switch {
	case ok && cmd.PrivateOnly && !msg.IsPrivate:
		return
	case ok && cmd.Access == AccessOwnerOnly && !req.IsOwner:
		_, _ = m.adapter.SendText(ctx, req.Chat, "unauthorized", nil)
		return
	case ok:
		h, timeout = cmd.Handle, cmd.Timeout
	case unknown != nil && msg.IsPrivate:
		h = unknown
	default:
		return
	}

	final := m.guard(h, timeout)
	if !run(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

func (m *Router) routeCallback(ctx context.Context, up kit.Update, run func(func()) bool) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parsed, ok := tgui.Parse(cb.Data)
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	m.mu.RLock()
	route, ok := m.callbacks[parsed.Scope][parsed.Action]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	owner := m.isOwner(cb.FromID)
	if route.Access == AccessOwnerOnly && !owner {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	key := parsed.Scope + ":" + parsed.Action
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:       cb.FromID,
		LanguageCode: cb.LanguageCode,
		Command:      "cb:" + key,
		CallbackID:   cb.ID,
		MessageID:    cb.MessageID,
		Payload:      parsed.Payload,
		ReqID:        newReqID(),
		Adapter:      m.adapter,
		IsOwner:      owner,
	}
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("from_id", cb.FromID),
		logx.String("cmd", req.Command),
	)

	final := m.guard(route.Handle, route.Timeout)
	if !run(func() {
		_ = final(ctx, req)
		// Stops the client's loading spinner.
		_ = m.adapter.AnswerCallback(ctx, cb.ID, req.Toast)
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

var reqSeq uint64

func newReqID() string {
	n := atomic.AddUint64(&reqSeq, 1)
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(n, 36)
}
