package fragment

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-jetstream/jetstream/codec"
	"github.com/go-jetstream/jetstream/model"
	"github.com/google/uuid"
)

// ErrUnresolvedRef names the condition of a reference property naming a
// UUID that can't be found even after a batch's add fragments have all been
// instantiated. ApplyBatch does not return it: it logs a warning and treats
// the reference as null.
var ErrUnresolvedRef = errors.New("fragment: unresolved reference")

// Resolver is the narrow slice of Scope that fragment application needs: a
// way to find an existing object by UUID and to instantiate a new one for
// an "add"/"root" fragment. Scope implements this; fragment never imports
// scope.
type Resolver interface {
	Lookup(id uuid.UUID) (*model.Object, bool)
	Instantiate(class *model.ClassDescriptor, id uuid.UUID) (*model.Object, error)
}

// ApplyBatch applies fragments in order (spec.md §4.C "Applying (inbound)"):
// a first pass instantiates every "add"/"root" target that doesn't already
// exist, then a second pass wires every fragment's properties, resolving
// references against the now-complete object set. It returns the object
// named by the last "root" fragment seen, or nil if none was present.
//
// log receives one message per dropped/defaulted field or fragment — an
// unknown property, an unresolved reference treated as null, or a "change"
// naming an unknown object — matching spec.md §7's "log and drop/skip"
// policy for malformed input. A nil log is replaced with slog.Default().
func ApplyBatch(r Resolver, frags []*Fragment, log *slog.Logger) (*model.Object, error) {
	if log == nil {
		log = slog.Default()
	}

	for _, frag := range frags {
		if frag.Kind != KindAdd && frag.Kind != KindRoot {
			continue
		}
		if _, exists := r.Lookup(frag.UUID); exists {
			continue // duplicate add, or root reconciling an existing object: idempotent
		}
		if frag.Class == "" {
			return nil, fmt.Errorf("fragment: %s fragment for %s missing class name", frag.Kind, frag.UUID)
		}
		class, err := model.Lookup(frag.Class)
		if err != nil {
			return nil, fmt.Errorf("fragment: %w", err)
		}
		if _, err := r.Instantiate(class, frag.UUID); err != nil {
			return nil, fmt.Errorf("fragment: instantiating %s %s: %w", frag.Class, frag.UUID, err)
		}
	}

	var root *model.Object
	for _, frag := range frags {
		obj, exists := r.Lookup(frag.UUID)
		if !exists {
			if frag.Kind == KindChange {
				log.Warn("dropping change fragment for unknown object", "uuid", frag.UUID)
				continue
			}
			// Add/root must have been instantiated in the first pass unless
			// Instantiate itself failed, which already returned above.
			return nil, fmt.Errorf("fragment: %s fragment for %s has no resolvable object", frag.Kind, frag.UUID)
		}
		if err := applyProperties(r, obj, frag, log); err != nil {
			return nil, err
		}
		if frag.Kind == KindRoot {
			root = obj
		}
	}
	return root, nil
}

func applyProperties(r Resolver, obj *model.Object, frag *Fragment, log *slog.Logger) error {
	for name, raw := range frag.Properties {
		field, ok := obj.Class().Field(name)
		if !ok {
			log.Warn("skipping unknown property on fragment", "class", obj.Class().Name, "property", name)
			continue
		}
		value, err := decodeField(r, field, raw, log)
		if err != nil {
			log.Warn("skipping undecodable property on fragment", "class", obj.Class().Name, "property", name, "error", err)
			continue
		}
		if err := obj.Set(name, value); err != nil {
			return fmt.Errorf("fragment: applying %s.%s: %w", obj.Class().Name, name, err)
		}
	}
	return nil
}

func decodeField(r Resolver, field model.Field, raw any, log *slog.Logger) (any, error) {
	if raw == nil {
		return nil, nil // a null wire value clears the property
	}
	switch field.Kind {
	case model.KindRef:
		if raw == nil {
			return nil, nil
		}
		decoded, err := codec.Decode(field.Name, field.Tag, raw)
		if err != nil {
			return nil, err
		}
		id := decoded.(uuid.UUID)
		if id == uuid.Nil {
			return nil, nil
		}
		obj, ok := r.Lookup(id)
		if !ok {
			log.Warn("reference did not resolve, treating as null", "property", field.Name, "uuid", id)
			return nil, nil
		}
		return obj, nil
	case model.KindRefList:
		decoded, err := codec.Decode(field.Name, field.Tag, raw)
		if err != nil {
			return nil, err
		}
		ids := decoded.([]uuid.UUID)
		objs := make([]*model.Object, 0, len(ids))
		for _, id := range ids {
			obj, ok := r.Lookup(id)
			if !ok {
				log.Warn("reference in collection did not resolve, dropping element", "property", field.Name, "uuid", id)
				continue
			}
			objs = append(objs, obj)
		}
		return objs, nil
	default:
		return codec.Decode(field.Name, field.Tag, raw)
	}
}
