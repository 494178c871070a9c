// Package transporttest provides an in-memory fake transport.Transport for
// exercising jetstream.Client end-to-end without a real socket — the role
// httptest.NewRecorder/httptest.NewRequest play in the teacher's own router
// tests (SPEC_FULL.md §8 "Test style").
package transporttest

import (
	"context"
	"sync"

	"github.com/go-jetstream/jetstream/transport"
)

// Fake is a transport.Transport a test drives directly: Deliver simulates
// an inbound message, Sent inspects what Client has sent so far, SetStatus
// forces a status transition without a real connect/disconnect.
type Fake struct {
	mu       sync.Mutex
	status   transport.Status
	sent     []transport.Message
	onStatus func(transport.Status)
	onMsg    func(transport.Message)
	waiting  map[uint64]transport.ReplyHandler
}

// New constructs a Fake starting in transport.StatusClosed.
func New() *Fake {
	return &Fake{status: transport.StatusClosed, waiting: make(map[uint64]transport.ReplyHandler)}
}

func (f *Fake) Connect(ctx context.Context) error {
	f.setStatus(transport.StatusConnected)
	return nil
}

func (f *Fake) Disconnect() error {
	f.setStatus(transport.StatusClosed)
	return nil
}

func (f *Fake) Reconnect(ctx context.Context) error {
	f.setStatus(transport.StatusConnected)
	return nil
}

func (f *Fake) SendMessage(m transport.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	return nil
}

func (f *Fake) SendMessageReply(m transport.Message, cb transport.ReplyHandler) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	if cb != nil {
		f.waiting[m.Index] = cb
	}
	f.mu.Unlock()
	return nil
}

func (f *Fake) OnStatusChanged(fn func(transport.Status)) { f.onStatus = fn }
func (f *Fake) OnMessage(fn func(transport.Message))      { f.onMsg = fn }

func (f *Fake) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Fake) setStatus(s transport.Status) {
	f.mu.Lock()
	f.status = s
	fn := f.onStatus
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// SetStatus lets a test force a status transition (e.g. simulate an
// unexpected disconnect) without a real Connect/Disconnect/Reconnect.
func (f *Fake) SetStatus(s transport.Status) { f.setStatus(s) }

// Sent returns every message handed to SendMessage/SendMessageReply so
// far, in send order.
func (f *Fake) Sent() []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// Deliver simulates an inbound message from the server: Reply messages are
// routed to their waiting callback first (mirroring transport.Link's own
// dispatch), then the registered OnMessage handler is invoked.
func (f *Fake) Deliver(m transport.Message) {
	if m.Type == transport.TypeReply || m.ReplyTo != 0 {
		f.mu.Lock()
		cb, ok := f.waiting[m.ReplyTo]
		if ok {
			delete(f.waiting, m.ReplyTo)
		}
		f.mu.Unlock()
		if ok {
			cb(m)
		}
	}
	if f.onMsg != nil {
		f.onMsg(m)
	}
}
