package transport

import (
	"encoding/json"
	"testing"

	"github.com/go-jetstream/jetstream/fragment"
	"github.com/google/uuid"
)

func TestSessionCreateRoundTrip(t *testing.T) {
	m := Message{Type: TypeSessionCreate, Index: 1, Version: "0.1.0"}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var got Message
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != m.Type || got.Index != m.Index || got.Version != m.Version {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestScopeStateRoundTripsFragments(t *testing.T) {
	m := Message{
		Type:       TypeScopeState,
		Index:      4,
		ScopeIndex: 1,
		RootFragment: &fragment.Fragment{
			Kind: fragment.KindRoot, UUID: uuid.New(), Class: "Root",
		},
		SyncFragments: []*fragment.Fragment{
			{Kind: fragment.KindAdd, UUID: uuid.New(), Class: "Shape", Properties: map[string]any{"x": float64(10)}},
		},
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var got Message
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.RootFragment == nil || got.RootFragment.UUID != m.RootFragment.UUID {
		t.Fatalf("root fragment mismatch: %+v", got.RootFragment)
	}
	if len(got.SyncFragments) != 1 || got.SyncFragments[0].UUID != m.SyncFragments[0].UUID {
		t.Fatalf("sync fragments mismatch: %+v", got.SyncFragments)
	}
}

func TestReplyRoundTripsErrorPayload(t *testing.T) {
	m := Message{Type: TypeReply, ReplyTo: 2, Result: false, Error: &ReplyError{Code: 404, Message: "no such scope"}}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var got Message
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Error == nil || got.Error.Code != 404 || got.Error.Message != "no such scope" {
		t.Fatalf("error payload mismatch: %+v", got.Error)
	}
}

func TestDecodeBatchSingleObject(t *testing.T) {
	msgs, err := DecodeBatch([]byte(`{"type":"Ping","index":1,"ack":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Type != TypePing || msgs[0].Ack != 3 {
		t.Fatalf("unexpected decode: %+v", msgs)
	}
}

func TestDecodeBatchArray(t *testing.T) {
	msgs, err := DecodeBatch([]byte(`  [{"type":"Ping","index":1,"ack":3},{"type":"Ping","index":2,"ack":4}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].Ack != 4 {
		t.Fatalf("unexpected batch decode: %+v", msgs)
	}
}

func TestDecodeBatchEmptyPayloadErrors(t *testing.T) {
	if _, err := DecodeBatch([]byte("   ")); err == nil {
		t.Fatal("expected an error for an empty payload")
	}
}
