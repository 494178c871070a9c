package jetstream

import "github.com/go-jetstream/jetstream/transport"

// Message, MessageType and ReplyError are aliases of the concrete types
// transport.Link needs to inspect (Type/Index/Ack/ReplyTo) to implement reply
// correlation, the non-acked buffer and ping-ack trimming. Defining them in
// transport and aliasing them here keeps the public API surface exactly as
// SPEC_FULL.md's component table describes (jetstream.Message) while avoiding
// an import cycle: jetstream must import transport for the Transport
// interface, so Message cannot live in jetstream without transport importing
// it back.
type Message = transport.Message

// MessageType is the closed set of Message.Type values (spec.md §4.E).
type MessageType = transport.MessageType

// ReplyError is the {code, message} error payload carried by a failed Reply.
type ReplyError = transport.ReplyError

const (
	TypeSessionCreate         = transport.TypeSessionCreate
	TypeSessionCreateResponse = transport.TypeSessionCreateResponse
	TypeScopeFetch            = transport.TypeScopeFetch
	TypeScopeState            = transport.TypeScopeState
	TypeScopeSync             = transport.TypeScopeSync
	TypePing                  = transport.TypePing
	TypeReply                 = transport.TypeReply
)

// DecodeBatch decodes a single message or a JSON array of messages, per
// spec.md §6's "payload is either one object or an array of objects".
func DecodeBatch(data []byte) ([]Message, error) { return transport.DecodeBatch(data) }
