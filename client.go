// Package jetstream implements the bidirectional model-synchronization
// protocol between a process and a remote authoritative server: ValueCodec
// (package codec), ModelObject (package model), SyncFragment (package fragment), Scope
// (package scope), Message and Transport (package transport), and the
// Session/Client state machine implemented in this package.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-jetstream/jetstream/fragment"
	"github.com/go-jetstream/jetstream/scope"
	"github.com/go-jetstream/jetstream/transport"
)

// ErrClosed is returned by AttachScope once Close has been called.
var ErrClosed = errors.New("jetstream: client closed")

// Client drives the Session handshake, routes ScopeState/ScopeSync messages
// to attached Scopes, and forwards each Scope's outbound flush as a
// ScopeSync (spec.md §4.H). All of its state is owned by a single logical
// thread (spec.md §5): the run loop started by Run. Calls made from other
// goroutines (transport callbacks, or the public attach/close methods) hop
// onto that thread via post.
type Client struct {
	t   transport.Transport
	log *slog.Logger

	onSession       func(*Session)
	onSessionDenied func(*ReplyError)
	onStatusChanged func(transport.Status)

	runCh  chan func()
	closed atomic.Bool

	session        *Session
	bootstrapIndex atomic.Uint64
	resumeFailures int

	scopesByIndex map[int]*scope.Scope
	pendingFetch  map[uint64]func(Message)
}

// New constructs a Client over an already-constructed transport.Transport
// (typically a *transport.Link wrapping transport/ws.Dialer), mirroring the
// teacher's own mizu.New(...AppOption): conservative defaults, every knob
// overridable via an Option.
func New(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		t:             t,
		log:           slog.Default(),
		runCh:         make(chan func(), 256),
		scopesByIndex: make(map[int]*scope.Scope),
		pendingFetch:  make(map[uint64]func(Message)),
	}
	for _, opt := range opts {
		opt(c)
	}

	t.OnStatusChanged(func(s transport.Status) {
		c.post(func() { c.handleStatusChanged(s) })
	})
	t.OnMessage(func(m Message) {
		c.post(func() { c.handleMessage(m) })
	})

	return c
}

// Run connects the transport and drives the Client's run loop until ctx is
// canceled or Close is called. It is the "app thread" spec.md §5 requires:
// every mutation below runs only while Run is pumping runCh.
func (c *Client) Run(ctx context.Context) error {
	if err := c.t.Connect(ctx); err != nil {
		return fmt.Errorf("jetstream: connecting transport: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.runCh:
			fn()
		}
	}
}

// post hops fn onto the run loop. Called from transport's internal
// goroutines and from public Client methods; never called directly from
// inside the run loop itself.
func (c *Client) post(fn func()) {
	if c.closed.Load() {
		return
	}
	select {
	case c.runCh <- fn:
	default:
		c.log.Warn("jetstream: run loop backlog full, dropping posted work")
	}
}

// AttachScope sends ScopeFetch(name) and, on success, subscribes s to the
// resulting scope index so its outbound flushes are forwarded as
// ScopeSync messages (spec.md §4.H "Attach"). onAttached, if non-nil, is
// invoked exactly once with the outcome.
func (c *Client) AttachScope(name string, s *scope.Scope, onAttached func(error)) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.post(func() { c.attachScope(name, s, onAttached) })
	return nil
}

func (c *Client) attachScope(name string, s *scope.Scope, onAttached func(error)) {
	idx := c.nextIndex()
	msg := Message{Type: TypeScopeFetch, Index: idx, Name: name}

	c.pendingFetch[idx] = func(reply Message) {
		if !reply.Result {
			if onAttached != nil {
				onAttached(fmt.Errorf("jetstream: scope fetch %q denied: %s", name, replyErrorText(reply.Error)))
			}
			return
		}
		c.scopesByIndex[reply.ScopeIndex] = s
		scopeIndex := reply.ScopeIndex
		// Deferred flushes run on the run loop, so the flushed batch is sent
		// from there directly.
		scope.WithScheduler(func(fn func()) { c.post(fn) })(s)
		s.ObserveChanges(func(frags []*fragment.Fragment) {
			c.sendScopeSync(scopeIndex, frags)
		})
		if onAttached != nil {
			onAttached(nil)
		}
	}

	err := c.t.SendMessageReply(msg, func(reply Message) {
		c.post(func() {
			cb, ok := c.pendingFetch[idx]
			if !ok {
				return
			}
			delete(c.pendingFetch, idx)
			cb(reply)
		})
	})
	if err != nil {
		delete(c.pendingFetch, idx)
		if onAttached != nil {
			onAttached(err)
		}
	}
}

func (c *Client) sendScopeSync(scopeIndex int, frags []*fragment.Fragment) {
	if len(frags) == 0 {
		return
	}
	_ = c.t.SendMessage(Message{
		Type: TypeScopeSync, Index: c.nextIndex(),
		ScopeIndex: scopeIndex, SyncFragments: frags,
	})
}

// handleStatusChanged implements spec.md §4.H's state machine: transport
// status connected maps to "online", anything else to "offline".
func (c *Client) handleStatusChanged(s transport.Status) {
	if c.onStatusChanged != nil {
		c.onStatusChanged(s)
	}
	if s != transport.StatusConnected {
		return
	}
	if c.session == nil {
		_ = c.t.SendMessage(Message{Type: TypeSessionCreate, Index: c.nextIndex(), Version: "0.1.0"})
		return
	}
	c.resume()
}

// resume implements the adopted session-resume semantics (SPEC_FULL.md §9):
// a Ping(resendMissing=true) drives resumption; three consecutive resumes
// with no forward ack progress are treated as fatal, since the source
// protocol specifies no clean session-invalidation pathway.
func (c *Client) resume() {
	c.resumeFailures++
	if c.resumeFailures > 3 {
		c.log.Error("jetstream: session resume made no progress across 3 attempts, giving up")
		if c.onSessionDenied != nil {
			c.onSessionDenied(&ReplyError{Message: "resume failed: no forward progress"})
		}
		_ = c.t.Disconnect()
		return
	}
	_ = c.t.SendMessage(Message{
		Type: TypePing, Index: c.nextIndex(),
		Ack: c.session.ServerIndex(), ResendMissing: true,
	})
}

func (c *Client) handleMessage(m Message) {
	switch m.Type {
	case TypeSessionCreateResponse:
		c.handleSessionCreateResponse(m)
	case TypeScopeState:
		c.handleScopeState(m)
	case TypeScopeSync:
		c.handleScopeSync(m)
	case TypePing:
		c.handlePing(m)
	case TypeReply:
		// Reply routing to its waiting callback happens inside Transport;
		// at the Client level a Reply is a no-op (spec.md §4.H).
	default:
		c.log.Warn("jetstream: unrecognized message type", "type", m.Type)
	}
}

func (c *Client) handleSessionCreateResponse(m Message) {
	if !m.Success {
		if c.onSessionDenied != nil {
			c.onSessionDenied(m.Error)
		}
		return
	}
	c.session = newSession(m.SessionToken)
	c.resumeFailures = 0
	if c.onSession != nil {
		c.onSession(c.session)
	}
}

func (c *Client) handleScopeState(m Message) {
	s, ok := c.scopesByIndex[m.ScopeIndex]
	if !ok {
		c.log.Warn("jetstream: ScopeState for an unattached scope index", "scopeIndex", m.ScopeIndex)
		return
	}
	if _, err := s.ApplyRootFragment(m.RootFragment, m.SyncFragments); err != nil {
		c.log.Error("jetstream: applying ScopeState", "scopeIndex", m.ScopeIndex, "error", err)
		return
	}
	c.resumeFailures = 0
}

func (c *Client) handleScopeSync(m Message) {
	s, ok := c.scopesByIndex[m.ScopeIndex]
	if !ok {
		c.log.Warn("jetstream: ScopeSync for an unattached scope index", "scopeIndex", m.ScopeIndex)
		return
	}
	if len(m.SyncFragments) == 0 {
		c.log.Info("jetstream: empty ScopeSync batch", "scopeIndex", m.ScopeIndex)
		return
	}
	if err := s.ApplySyncFragments(m.SyncFragments); err != nil {
		c.log.Error("jetstream: applying ScopeSync", "scopeIndex", m.ScopeIndex, "error", err)
		return
	}
	c.resumeFailures = 0
}

func (c *Client) handlePing(m Message) {
	if c.session == nil {
		return
	}
	before := c.session.ServerIndex()
	c.session.recordServerIndex(m.Ack)
	if c.session.ServerIndex() > before {
		c.resumeFailures = 0
	}
}

func (c *Client) nextIndex() uint64 {
	if c.session != nil {
		return c.session.NextIndex()
	}
	return c.bootstrapIndex.Add(1)
}

// Close gates the Client (later AttachScope calls return ErrClosed and
// posted work is dropped), drains pending reply callbacks with ErrClosed,
// flushes every attached scope's pending changes synchronously as ScopeSync
// messages, and disconnects the transport (spec.md §9's Client.close() open
// question, resolved). Calling Close again returns nil.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	fn := func() {
		for idx, cb := range c.pendingFetch {
			delete(c.pendingFetch, idx)
			cb(Message{Type: TypeReply, ReplyTo: idx, Result: false, Error: &ReplyError{Message: ErrClosed.Error()}})
		}
		for _, s := range c.scopesByIndex {
			s.FlushNow()
		}
		close(done)
	}

	select {
	case c.runCh <- fn:
		<-done
	case <-time.After(time.Second):
		c.log.Warn("jetstream: close timed out waiting for the run loop to drain")
	}

	return c.t.Disconnect()
}

func replyErrorText(e *ReplyError) string {
	if e == nil {
		return "unknown error"
	}
	return e.Message
}
