// Package codec encodes and decodes the closed set of scalar and reference
// value types that can appear on a SyncFragment property: integers, floats,
// bools, strings, dates, packed colors, single model-object references, and
// arrays of references.
//
// Every Tag has a canonical JSON wire shape (see Tag's doc comment). Decoding
// an unrecognized tag or a value that doesn't match the tag's wire shape
// never panics; it returns a *DecodeError so callers can log and skip the
// field per the fragment-apply "unknown field/type tag" rule.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tag identifies the runtime shape of a property value.
type Tag int

const (
	// TagUnknown marks a tag seen on the wire that this codec doesn't
	// recognize. Decoding never produces a value for it.
	TagUnknown Tag = iota
	TagInt
	TagFloat
	TagBool
	TagString
	// TagDate wire-encodes as a JSON number: seconds since the Unix epoch.
	TagDate
	// TagColor wire-encodes as a JSON number: RGBA packed 0xRRGGBBAA.
	TagColor
	// TagModelObjectRef wire-encodes as a JSON string holding a UUID.
	TagModelObjectRef
	// TagArrayOfRefs wire-encodes as a JSON array of UUID strings, even when
	// empty.
	TagArrayOfRefs
)

func (t Tag) String() string {
	switch t {
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagBool:
		return "bool"
	case TagString:
		return "string"
	case TagDate:
		return "date"
	case TagColor:
		return "color"
	case TagModelObjectRef:
		return "modelObjectRef"
	case TagArrayOfRefs:
		return "arrayOfRefs"
	default:
		return "unknown"
	}
}

// Color is an RGBA color packed as 0xRRGGBBAA.
type Color uint32

// DecodeError reports a value that could not be decoded under its tag.
// Fragment application logs it and skips the offending field rather than
// aborting the whole batch.
type DecodeError struct {
	Field string
	Tag   Tag
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: field %q (tag %s): %v", e.Field, e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode converts a runtime value into its wire representation for the
// given tag. The returned value is suitable for json.Marshal.
func Encode(tag Tag, v any) (any, error) {
	switch tag {
	case TagInt, TagFloat, TagBool, TagString:
		return v, nil
	case TagDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("codec: date value is %T, want time.Time", v)
		}
		return t.Unix(), nil
	case TagColor:
		c, ok := v.(Color)
		if !ok {
			return nil, fmt.Errorf("codec: color value is %T, want codec.Color", v)
		}
		return uint32(c), nil
	case TagModelObjectRef:
		switch ref := v.(type) {
		case uuid.UUID:
			return ref.String(), nil
		case nil:
			return nil, nil
		default:
			return nil, fmt.Errorf("codec: ref value is %T, want uuid.UUID", v)
		}
	case TagArrayOfRefs:
		refs, ok := v.([]uuid.UUID)
		if !ok {
			return nil, fmt.Errorf("codec: arrayOfRefs value is %T, want []uuid.UUID", v)
		}
		out := make([]string, len(refs))
		for i, r := range refs {
			out[i] = r.String()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unknown tag %s", tag)
	}
}

// Decode converts a wire value (as produced by encoding/json.Unmarshal into
// `any`) back into its runtime shape for the given tag.
func Decode(field string, tag Tag, raw any) (any, error) {
	v, err := decode(tag, raw)
	if err != nil {
		return nil, &DecodeError{Field: field, Tag: tag, Err: err}
	}
	return v, nil
}

func decode(tag Tag, raw any) (any, error) {
	switch tag {
	case TagInt:
		n, ok := raw.(json.Number)
		if ok {
			i, err := n.Int64()
			return i, err
		}
		if i, ok := raw.(int64); ok {
			return i, nil
		}
		f, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("want number, got %T", raw)
		}
		return int64(f), nil
	case TagFloat:
		if n, ok := raw.(json.Number); ok {
			return n.Float64()
		}
		f, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("want number, got %T", raw)
		}
		return f, nil
	case TagBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", raw)
		}
		return b, nil
	case TagString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", raw)
		}
		return s, nil
	case TagDate:
		var secs int64
		switch n := raw.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, err
			}
			secs = i
		case float64:
			secs = int64(n)
		default:
			return nil, fmt.Errorf("want number, got %T", raw)
		}
		return time.Unix(secs, 0).UTC(), nil
	case TagColor:
		switch n := raw.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, err
			}
			return Color(uint32(i)), nil
		case float64:
			return Color(uint32(int64(n))), nil
		default:
			return nil, fmt.Errorf("want number, got %T", raw)
		}
	case TagModelObjectRef:
		if raw == nil {
			return uuid.Nil, nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", raw)
		}
		return uuid.Parse(s)
	case TagArrayOfRefs:
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("want array, got %T", raw)
		}
		out := make([]uuid.UUID, 0, len(arr))
		for _, item := range arr {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("want string element, got %T", item)
			}
			u, err := uuid.Parse(s)
			if err != nil {
				return nil, err
			}
			out = append(out, u)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown tag %s", tag)
	}
}
