// Package transport implements the Transport component (spec.md §4.F): the
// connection lifecycle, reply correlation, non-acked buffer, reconnect
// loop, and keep-alive ping sitting between Client and an opaque bidirectional
// message pipe (a WebSocket, a long-poll channel, or an in-memory fake).
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Status is the adapter's connection lifecycle state (spec.md §4.F).
type Status int

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusConnected
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrFatal wraps a server-signalled fatal code (spec.md §6 "denied-
// connection (4096), closed-connection (4097)"); once received, the
// adapter enters StatusFatal, suppresses reconnects, and requires a new
// Client.
type ErrFatal struct {
	Code int
}

func (e *ErrFatal) Error() string { return fmt.Sprintf("transport: fatal code %d", e.Code) }

// ErrClosed is returned by operations attempted after Disconnect has been
// called deliberately (not as a reconnect-triggering error).
var ErrClosed = errors.New("transport: closed")

// ReplyHandler is invoked at most once with the Reply message matching the
// index a message was sent with (spec.md §4.F "Callbacks MUST NOT be
// invoked more than once").
type ReplyHandler func(Message)

// Conn is the minimal opaque bidirectional message pipe spec.md §1 treats
// as an external collaborator out of scope for this library: "a WebSocket
// or long-poll channel... with open/close/error events." transport/ws
// provides one.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn carrying the given session token (for reconnects,
// surfaced per spec.md §6 as the X-Jetstream-SessionToken header or
// equivalent out-of-band mechanism).
type Dialer interface {
	Dial(ctx context.Context, sessionToken string) (Conn, error)
}

// Metrics is an optional instrumentation hook (transport/promtransport
// provides a Prometheus-backed implementation). Nil by default.
type Metrics interface {
	Connected()
	Reconnecting()
	Fatal()
	MessageSent()
	MessageReceived()
	NonAckedDepth(n int)
}

// Transport is the contract Client programs against (spec.md §4.F).
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	SendMessage(m Message) error
	SendMessageReply(m Message, cb ReplyHandler) error
	OnStatusChanged(fn func(Status))
	OnMessage(fn func(Message))
	Status() Status
}

// Link is the generic Transport implementation: an adapter such as
// transport/ws supplies only a Dialer; Link owns the reply
// correlation map, non-acked buffer, reconnect loop, and keep-alive ping
// that spec.md §4.F specifies once, transport-agnostically.
type Link struct {
	dialer Dialer
	log    *slog.Logger
	metric Metrics

	fatalCodes map[int]bool
	pingEvery  time.Duration
	pingJitter time.Duration
	probeEvery time.Duration

	mu                   sync.Mutex
	status               Status
	conn                 Conn
	sessionToken         string
	nonAcked             []Message
	waitingReply         map[uint64]ReplyHandler
	serverIndexHighWater uint64

	onStatus func(Status)
	onMsg    func(Message)

	pingTimer *time.Timer
	closed    bool
	readDone  chan struct{}
}

// Option configures a Link at construction.
type Option func(*Link)

// WithLogger overrides the link's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option { return func(l *Link) { l.log = log } }

// WithMetrics installs an instrumentation hook. Nil (the default) disables
// instrumentation entirely.
func WithMetrics(m Metrics) Option { return func(l *Link) { l.metric = m } }

// WithFatalCodes overrides the set of server-signalled codes that put the
// link into StatusFatal. Defaults to {4096, 4097} per spec.md §6.
func WithFatalCodes(codes ...int) Option {
	return func(l *Link) {
		l.fatalCodes = make(map[int]bool, len(codes))
		for _, c := range codes {
			l.fatalCodes[c] = true
		}
	}
}

// WithPingInterval overrides the keep-alive cadence. Defaults to 10s.
func WithPingInterval(d time.Duration) Option { return func(l *Link) { l.pingEvery = d } }

// WithPingJitter overrides the keep-alive jitter range. Defaults to 1s.
func WithPingJitter(d time.Duration) Option { return func(l *Link) { l.pingJitter = d } }

// WithProbeInterval overrides the reachability-probe retry interval used
// while reconnecting. Defaults to 100ms (spec.md §4.F).
func WithProbeInterval(d time.Duration) Option { return func(l *Link) { l.probeEvery = d } }

// NewLink constructs a Link over dialer with conservative defaults.
func NewLink(dialer Dialer, opts ...Option) *Link {
	l := &Link{
		dialer:       dialer,
		log:          slog.Default(),
		fatalCodes:   map[int]bool{4096: true, 4097: true},
		pingEvery:    10 * time.Second,
		pingJitter:   1 * time.Second,
		probeEvery:   100 * time.Millisecond,
		waitingReply: make(map[uint64]ReplyHandler),
		status:       StatusClosed,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// setStatus records s and notifies the registered status observer.
func (l *Link) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	fn := l.onStatus
	l.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (l *Link) OnStatusChanged(fn func(Status)) { l.onStatus = fn }
func (l *Link) OnMessage(fn func(Message))       { l.onMsg = fn }

// Connect dials the transport and starts the read loop and keep-alive
// timer. Establishing the very first connection does not retry on
// failure — only the reconnect loop entered via an unexpected Disconnect
// retries (spec.md §4.F describes retry only as part of reconnection).
func (l *Link) Connect(ctx context.Context) error {
	l.setStatus(StatusConnecting)
	conn, err := l.dialer.Dial(ctx, l.sessionTokenLocked())
	if err != nil {
		l.setStatus(StatusClosed)
		return fmt.Errorf("transport: connect: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.closed = false
	l.mu.Unlock()
	l.setStatus(StatusConnected)
	l.resendNonAcked()
	l.armPing()
	l.readDone = make(chan struct{})
	go l.readLoop(l.readDone)
	if l.metric != nil {
		l.metric.Connected()
	}
	return nil
}

// Disconnect is a deliberate, user-initiated close: no reconnect loop
// follows.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	l.closed = true
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	l.stopPing()
	l.setStatus(StatusClosed)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Reconnect implements spec.md §4.F's reconnect loop: halt the ping timer,
// mark connecting, probe reachability at a constant interval via
// cenkalti/backoff/v5's constant backoff until the dial succeeds, then
// re-open and re-advertise the session with an immediate
// Ping{resendMissing:true}.
func (l *Link) Reconnect(ctx context.Context) error {
	l.stopPing()
	l.setStatus(StatusConnecting)
	if l.metric != nil {
		l.metric.Reconnecting()
	}

	probe := func() (Conn, error) {
		conn, err := l.dialer.Dial(ctx, l.sessionTokenLocked())
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	conn, err := backoff.Retry(ctx, probe, backoff.WithBackOff(backoff.NewConstantBackOff(l.probeEvery)))
	if err != nil {
		return fmt.Errorf("transport: reconnect: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.closed = false
	l.mu.Unlock()
	l.setStatus(StatusConnected)
	l.resendNonAcked()
	l.armPing()
	l.readDone = make(chan struct{})
	go l.readLoop(l.readDone)

	return l.SendMessage(Message{Type: TypePing, ResendMissing: true})
}

func (l *Link) sessionTokenLocked() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionToken
}

// SetSessionToken records the token surfaced to the dialer on the next
// (re)connect (spec.md §6).
func (l *Link) SetSessionToken(token string) {
	l.mu.Lock()
	l.sessionToken = token
	l.mu.Unlock()
}

// SendMessage sends m with no reply correlation.
func (l *Link) SendMessage(m Message) error {
	return l.send(m, nil)
}

// SendMessageReply sends m and registers cb to fire once a Reply with a
// matching replyTo arrives (spec.md §4.F "Reply correlation").
func (l *Link) SendMessageReply(m Message, cb ReplyHandler) error {
	return l.send(m, cb)
}

func (l *Link) send(m Message, cb ReplyHandler) error {
	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return fmt.Errorf("transport: send while disconnected")
	}
	if cb != nil {
		l.waitingReply[m.Index] = cb
	}
	if !m.IsPing() {
		l.nonAcked = append(l.nonAcked, m)
	}
	l.mu.Unlock()

	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("transport: encoding message: %w", err)
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	if l.metric != nil {
		l.metric.MessageSent()
		l.metric.NonAckedDepth(l.nonAckedLen())
	}
	return nil
}

func (l *Link) nonAckedLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.nonAcked)
}

// resendNonAcked re-transmits the non-acked buffer verbatim, in index
// order. It fires proactively on every (re)connect, and reactively whenever
// an inbound Ping arrives with resendMissing set (spec.md §4.F, §8 scenario
// 4) — not only as part of the reconnect sequence.
func (l *Link) resendNonAcked() {
	l.mu.Lock()
	pending := append([]Message(nil), l.nonAcked...)
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return
	}
	for _, m := range pending {
		data, err := m.MarshalJSON()
		if err != nil {
			l.log.Warn("transport: failed to encode message for resend", "index", m.Index, "error", err)
			continue
		}
		if err := conn.WriteMessage(data); err != nil {
			l.log.Warn("transport: failed to resend message", "index", m.Index, "error", err)
			return
		}
	}
}

func (l *Link) readLoop(done chan struct{}) {
	defer close(done)
	for {
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn == nil {
			return
		}
		data, err := conn.ReadMessage()
		if err != nil {
			l.handleReadError(err)
			return
		}
		msgs, err := DecodeBatch(data)
		if err != nil {
			l.log.Warn("transport: dropping malformed message", "error", err)
			continue
		}
		for _, m := range msgs {
			l.dispatch(m)
		}
	}
}

func (l *Link) dispatch(m Message) {
	if l.metric != nil {
		l.metric.MessageReceived()
	}
	if m.Type == TypePing {
		l.applyAck(m.Ack)
		if m.ResendMissing {
			l.resendNonAcked()
		}
	}
	if m.Type == TypeReply || m.ReplyTo != 0 {
		l.mu.Lock()
		cb, ok := l.waitingReply[m.ReplyTo]
		if ok {
			delete(l.waitingReply, m.ReplyTo)
		}
		l.mu.Unlock()
		if ok {
			cb(m)
		}
	}
	if l.onMsg != nil {
		l.onMsg(m)
	}
}

// applyAck implements spec.md §4.F's non-acked buffer trim: entries with
// index <= ack are removed.
func (l *Link) applyAck(ack uint64) {
	l.mu.Lock()
	kept := l.nonAcked[:0]
	for _, m := range l.nonAcked {
		if m.Index > ack {
			kept = append(kept, m)
		}
	}
	l.nonAcked = kept
	if ack > l.serverIndexHighWater {
		l.serverIndexHighWater = ack
	}
	l.mu.Unlock()
	if l.metric != nil {
		l.metric.NonAckedDepth(l.nonAckedLen())
	}
}

// SetAck records the highest server index jetstream.Session has observed,
// so the keep-alive ping (armed independently of message traffic) always
// reports an up-to-date watermark even between Ping messages.
func (l *Link) SetAck(ack uint64) {
	l.mu.Lock()
	if ack > l.serverIndexHighWater {
		l.serverIndexHighWater = ack
	}
	l.mu.Unlock()
}

func (l *Link) handleReadError(err error) {
	l.mu.Lock()
	deliberate := l.closed
	l.mu.Unlock()
	if deliberate {
		return
	}

	var fatal *ErrFatal
	if errors.As(err, &fatal) && l.fatalCodes[fatal.Code] {
		l.setStatus(StatusFatal)
		if l.metric != nil {
			l.metric.Fatal()
		}
		return
	}

	l.setStatus(StatusClosed)
	if err := l.Reconnect(context.Background()); err != nil {
		l.log.Error("transport: reconnect failed", "error", err)
	}
}

func (l *Link) armPing() {
	l.stopPing()
	jitter := time.Duration(0)
	if l.pingJitter > 0 {
		jitter = time.Duration(rand.Int64N(int64(2*l.pingJitter))) - l.pingJitter
	}
	l.pingTimer = time.AfterFunc(l.pingEvery+jitter, l.firePing)
}

func (l *Link) firePing() {
	l.mu.Lock()
	ack := l.serverIndexHighWater
	l.mu.Unlock()
	_ = l.SendMessage(Message{Type: TypePing, Ack: ack})
	l.armPing()
}

func (l *Link) stopPing() {
	if l.pingTimer != nil {
		l.pingTimer.Stop()
	}
}
