// Package ws adapts github.com/coder/websocket to transport.Dialer — the
// WebSocket implementation spec.md §9 says implementers need "only... for
// parity" (grounded on other_examples/leapmux-leapmux, which depends on
// coder/websocket for exactly this role: a bidirectional, in-order,
// text/binary message pipe for an application protocol layered on top).
package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-jetstream/jetstream/transport"
)

const sessionTokenHeader = "X-Jetstream-SessionToken"

// Dialer opens a websocket connection to URL, carrying the session token
// as the X-Jetstream-SessionToken header on (re)connect (spec.md §6).
type Dialer struct {
	URL    string
	Header http.Header
}

// Dial implements transport.Dialer.
func (d Dialer) Dial(ctx context.Context, sessionToken string) (transport.Conn, error) {
	header := d.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if sessionToken != "" {
		header.Set(sessionTokenHeader, sessionToken)
	}

	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", d.URL, err)
	}
	conn.SetReadLimit(32 << 20)
	return &wsConn{c: conn}, nil
}

// wsConn adapts *websocket.Conn to transport.Conn. Jetstream frames are
// always UTF-8 JSON (spec.md §6 "Wire framing"), so every write uses
// websocket.MessageText.
type wsConn struct {
	c *websocket.Conn
}

// fatal close codes the server uses to signal a denied/invalid session
// (spec.md §6) rather than an ordinary transport hiccup.
const (
	closeCodeSessionDenied websocket.StatusCode = 4096
	closeCodeInvalidToken  websocket.StatusCode = 4097
)

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.c.Read(context.Background())
	if err != nil {
		if code := websocket.CloseStatus(err); code == closeCodeSessionDenied || code == closeCodeInvalidToken {
			return nil, &transport.ErrFatal{Code: int(code)}
		}
		return nil, fmt.Errorf("ws: read: %w", err)
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.c.Write(context.Background(), websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	return c.c.Close(websocket.StatusNormalClosure, "bye")
}
