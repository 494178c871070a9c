package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-jetstream/jetstream/fragment"
)

// MessageType is the closed set of wire message shapes (spec.md §4.E, §6).
type MessageType string

const (
	TypeSessionCreate         MessageType = "SessionCreate"
	TypeSessionCreateResponse MessageType = "SessionCreateResponse"
	TypeScopeFetch            MessageType = "ScopeFetch"
	TypeScopeState            MessageType = "ScopeState"
	TypeScopeSync             MessageType = "ScopeSync"
	TypePing                  MessageType = "Ping"
	TypeReply                 MessageType = "Reply"
)

// ReplyError is the structured error payload a failed ScopeFetch reply
// carries (spec.md §6).
type ReplyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Message is the tagged union over spec.md §6's closed message set: a
// single struct with typed optional fields gated by Type, rather than a
// class hierarchy (spec.md §9 "Message polymorphism"). Message lives in
// this package — not the root jetstream package the component table names
// — because Transport itself must inspect Type/Index/Ack to drive reply
// correlation and the non-acked buffer; jetstream re-exports it as
// jetstream.Message via a type alias so the public API still presents it
// the way SPEC_FULL.md's component table describes.
type Message struct {
	Type  MessageType
	Index uint64

	// SessionCreate
	Version string

	// SessionCreateResponse
	ReplyTo      uint64
	Success      bool
	SessionToken string

	// ScopeFetch
	Name   string
	Params map[string]any

	// Reply (both the ScopeFetch reply shape and the generic Reply shape)
	Result     bool
	ScopeIndex int
	Error      *ReplyError
	Payload    any

	// ScopeState / ScopeSync
	RootFragment  *fragment.Fragment
	SyncFragments []*fragment.Fragment

	// Ping
	Ack           uint64
	ResendMissing bool
}

// IsPing reports whether m is a Ping message, the one message type the
// non-acked buffer (spec.md §4.F) never appends.
func (m Message) IsPing() bool { return m.Type == TypePing }

type wireMessage struct {
	Type          MessageType           `json:"type"`
	Index         uint64                `json:"index"`
	Version       string                `json:"version,omitempty"`
	ReplyTo       uint64                `json:"replyTo,omitempty"`
	Success       bool                  `json:"success,omitempty"`
	SessionToken  string                `json:"sessionToken,omitempty"`
	Name          string                `json:"name,omitempty"`
	Params        map[string]any        `json:"params,omitempty"`
	Result        bool                  `json:"result,omitempty"`
	ScopeIndex    int                   `json:"scopeIndex,omitempty"`
	Error         *ReplyError           `json:"error,omitempty"`
	Payload       json.RawMessage       `json:"payload,omitempty"`
	RootFragment  *fragment.Fragment    `json:"rootFragment,omitempty"`
	SyncFragments []*fragment.Fragment  `json:"syncFragments,omitempty"`
	Ack           uint64                `json:"ack,omitempty"`
	ResendMissing bool                  `json:"resendMissing,omitempty"`
}

// MarshalJSON implements spec.md §6's message layouts.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Type: m.Type, Index: m.Index, Version: m.Version,
		ReplyTo: m.ReplyTo, Success: m.Success, SessionToken: m.SessionToken,
		Name: m.Name, Params: m.Params,
		Result: m.Result, ScopeIndex: m.ScopeIndex, Error: m.Error,
		RootFragment: m.RootFragment, SyncFragments: m.SyncFragments,
		Ack: m.Ack, ResendMissing: m.ResendMissing,
	}
	if m.Payload != nil {
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("transport: encoding reply payload: %w", err)
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements spec.md §6's message layouts.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("transport: decoding message: %w", err)
	}
	*m = Message{
		Type: w.Type, Index: w.Index, Version: w.Version,
		ReplyTo: w.ReplyTo, Success: w.Success, SessionToken: w.SessionToken,
		Name: w.Name, Params: w.Params,
		Result: w.Result, ScopeIndex: w.ScopeIndex, Error: w.Error,
		RootFragment: w.RootFragment, SyncFragments: w.SyncFragments,
		Ack: w.Ack, ResendMissing: w.ResendMissing,
	}
	if len(w.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return fmt.Errorf("transport: decoding reply payload: %w", err)
		}
		m.Payload = payload
	}
	return nil
}

// DecodeBatch accepts a wire payload that is either a single JSON object or
// a JSON array of objects (spec.md §6 "the payload is either one object or
// an array of objects"), peeking the first non-whitespace byte to decide
// which.
func DecodeBatch(data []byte) ([]Message, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("transport: empty message payload")
	}
	if trimmed[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("transport: decoding message batch: %w", err)
		}
		return msgs, nil
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("transport: decoding message: %w", err)
	}
	return []Message{m}, nil
}
