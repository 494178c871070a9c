package fragment

import (
	"fmt"

	"github.com/go-jetstream/jetstream/codec"
	"github.com/go-jetstream/jetstream/model"
	"github.com/google/uuid"
)

// BuildAdd constructs an "add" fragment: the object's class name plus its
// full current property snapshot, scalars inline and refs as UUIDs
// (spec.md §4.C).
func BuildAdd(obj *model.Object) (*Fragment, error) {
	props, err := snapshot(obj)
	if err != nil {
		return nil, err
	}
	return &Fragment{Kind: KindAdd, UUID: obj.UUID(), Class: obj.Class().Name, Properties: props}, nil
}

// BuildChange constructs a "change" fragment carrying only the named
// properties and their encoded new values.
func BuildChange(obj *model.Object, changedProperties []string) (*Fragment, error) {
	props := make(map[string]any, len(changedProperties))
	for _, name := range changedProperties {
		field, ok := obj.Class().Field(name)
		if !ok {
			// Composite/derived names are never reported via Container.Changed,
			// but guard anyway: a change fragment never carries a non-wire
			// property.
			continue
		}
		encoded, err := encodeField(field, obj.Get(name))
		if err != nil {
			return nil, fmt.Errorf("fragment: building change for %s.%s: %w", obj.Class().Name, name, err)
		}
		props[name] = encoded
	}
	return &Fragment{Kind: KindChange, UUID: obj.UUID(), Properties: props}, nil
}

// BuildRoot constructs a "root" fragment naming the new root's UUID and
// class.
func BuildRoot(obj *model.Object) *Fragment {
	return &Fragment{Kind: KindRoot, UUID: obj.UUID(), Class: obj.Class().Name}
}

func snapshot(obj *model.Object) (map[string]any, error) {
	fields := obj.Class().Fields()
	props := make(map[string]any, len(fields))
	for _, field := range fields {
		encoded, err := encodeField(field, obj.Get(field.Name))
		if err != nil {
			return nil, fmt.Errorf("fragment: snapshotting %s.%s: %w", obj.Class().Name, field.Name, err)
		}
		props[field.Name] = encoded
	}
	return props, nil
}

// encodeField encodes a single field's current runtime value for the wire,
// translating ref fields from *model.Object / []*model.Object into the
// uuid.UUID / []uuid.UUID shapes codec.Encode expects.
func encodeField(field model.Field, value any) (any, error) {
	switch field.Kind {
	case model.KindRef:
		obj, _ := value.(*model.Object)
		if obj == nil {
			return nil, nil
		}
		return codec.Encode(field.Tag, obj.UUID())
	case model.KindRefList:
		list, _ := value.([]*model.Object)
		ids := make([]uuid.UUID, len(list))
		for i, o := range list {
			ids[i] = o.UUID()
		}
		return codec.Encode(field.Tag, ids)
	default:
		return codec.Encode(field.Tag, value)
	}
}
