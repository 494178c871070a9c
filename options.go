package jetstream

import (
	"log/slog"
	"time"

	"github.com/go-jetstream/jetstream/transport"
)

// Option configures a Client at construction, mirroring the teacher's own
// functional-options constructor (mizu.New(...AppOption)).
type Option func(*Client)

// WithLogger overrides the client's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithOnSession registers a callback fired once a SessionCreateResponse
// succeeds and a Session is created.
func WithOnSession(fn func(*Session)) Option {
	return func(c *Client) { c.onSession = fn }
}

// WithOnSessionDenied registers a callback fired when SessionCreateResponse
// reports failure, or when session resume gives up (spec.md §4.H,
// SPEC_FULL.md §9 resume semantics).
func WithOnSessionDenied(fn func(*ReplyError)) Option {
	return func(c *Client) { c.onSessionDenied = fn }
}

// WithOnStatusChanged registers an observer for every transport status
// transition, in addition to the Client's own online/offline handling.
func WithOnStatusChanged(fn func(transport.Status)) Option {
	return func(c *Client) { c.onStatusChanged = fn }
}

// WithPingInterval, WithPingJitter, WithFatalCodes and WithMetrics forward
// onto the underlying transport.Link when t was constructed with
// transport.NewLink — a no-op for any other transport.Transport
// implementation (e.g. transport/transporttest.Fake in tests).
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { applyLinkOption(c.t, transport.WithPingInterval(d)) }
}

func WithPingJitter(d time.Duration) Option {
	return func(c *Client) { applyLinkOption(c.t, transport.WithPingJitter(d)) }
}

func WithFatalCodes(codes ...int) Option {
	return func(c *Client) { applyLinkOption(c.t, transport.WithFatalCodes(codes...)) }
}

func WithMetrics(m transport.Metrics) Option {
	return func(c *Client) { applyLinkOption(c.t, transport.WithMetrics(m)) }
}

func applyLinkOption(t transport.Transport, opt transport.Option) {
	if l, ok := t.(*transport.Link); ok {
		opt(l)
	}
}
