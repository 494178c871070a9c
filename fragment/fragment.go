// Package fragment implements the SyncFragment wire record — the "add",
// "change", and "root" operations that describe one object's delta — and
// the algorithms that build fragments from a model.Object and apply them
// back onto one (spec.md §4.C).
package fragment

import "github.com/google/uuid"

// Kind is the fragment's operation.
type Kind string

const (
	KindAdd    Kind = "add"
	KindChange Kind = "change"
	KindRoot   Kind = "root"
)

// Fragment is the wire-level record for one object's delta.
//
// Properties holds wire-encoded values (the shapes codec.Encode produces).
// A key absent from the map leaves that property untouched; a key present
// with a nil value clears it, per spec.md §3 ("absent or null means
// clear").
type Fragment struct {
	Kind       Kind
	UUID       uuid.UUID
	Class      string // required on Add and Root, optional on Change
	Properties map[string]any
}
