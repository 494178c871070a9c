package model

import (
	"fmt"
	"time"

	"github.com/go-jetstream/jetstream/codec"
	"github.com/google/uuid"
)

// Container is the subset of Scope's contract that Object needs in order to
// report local changes and check remote-apply status. Scope implements it;
// model never imports scope, keeping the dependency one-directional
// (codec <- model <- fragment <- scope).
type Container interface {
	// RemoteApplying reports whether the container is currently applying a
	// batch of inbound fragments. Change capture is suppressed while true.
	RemoteApplying() bool
	// Changed is called once a property's new value has been stored and its
	// PropertyChanged observation has fired, but only when RemoteApplying()
	// was false for the whole call — i.e. only for locally authored edits.
	Changed(obj *Object, property string)
}

// ParentRef is one (parent, property) back-reference entry. Object keeps a
// multiset of these rather than a slice of plain UUIDs so invariant checks
// and detach bookkeeping can walk straight to the live parent.
type ParentRef struct {
	Parent   *Object
	Property string
}

// PropertyChange is delivered to PropertyChanged listeners.
type PropertyChange struct {
	Object *Object
	Name   string
	Old    any
	New    any
}

// CollectionOp distinguishes an insertion from a removal in a
// collection-of-refs property.
type CollectionOp int

const (
	CollectionAdded CollectionOp = iota
	CollectionRemoved
)

// CollectionChange is delivered to CollectionChanged listeners.
type CollectionChange struct {
	Object   *Object
	Property string
	Op       CollectionOp
	Index    int
	Value    *Object
}

// Object is a node in the synchronized graph: a typed, observable entity
// with a stable identity (spec.md §3, §4.B).
type Object struct {
	id    uuid.UUID
	class *ClassDescriptor
	scope Container

	values  map[string]any
	parents map[ParentRef]int

	propertyChanged   *Signal[PropertyChange]
	collectionChanged *Signal[CollectionChange]
	detached          *Signal[struct{}]
}

// New constructs an Object of class with a freshly generated identity.
func New(class *ClassDescriptor) *Object {
	return NewWithUUID(class, uuid.New())
}

// NewWithUUID constructs an Object with an explicit identity — used when
// applying an inbound "add" fragment that names the wire UUID the new
// object must carry.
func NewWithUUID(class *ClassDescriptor, id uuid.UUID) *Object {
	return &Object{
		id:                id,
		class:             class,
		values:            make(map[string]any),
		parents:           make(map[ParentRef]int),
		propertyChanged:   newSignal[PropertyChange](),
		collectionChanged: newSignal[CollectionChange](),
		detached:          newSignal[struct{}](),
	}
}

func (o *Object) UUID() uuid.UUID       { return o.id }
func (o *Object) Class() *ClassDescriptor { return o.class }

// Container returns the Scope currently containing this object, or nil if
// detached.
func (o *Object) Container() Container { return o.scope }

// SetContainer binds or clears the owning Scope. Called by scope when an
// object is attached to, or detached from, its graph.
func (o *Object) SetContainer(s Container) { o.scope = s }

// MarkDetached fires the Detached observation and clears the container. Only
// the owning scope calls this, once an object is no longer reachable from
// the root (spec.md §4.D step 1).
func (o *Object) MarkDetached() {
	o.scope = nil
	o.detached.Fire(struct{}{})
}

// Get returns a property's current value, computing composite properties
// lazily (spec.md §4.B: "value re-evaluated lazily on read").
func (o *Object) Get(name string) any {
	if fn, ok := o.class.compute[name]; ok {
		return fn(o)
	}
	return o.values[name]
}

// Set stores a new value for a declared property, applying the change
// capture rule of spec.md §4.B: no-op on equal values, back-pointer upkeep
// for references, per-property and composite observations, and (outside
// remote-apply mode) notifying the owning Scope.
func (o *Object) Set(name string, value any) error {
	field, ok := o.class.Field(name)
	if !ok {
		return fmt.Errorf("model: class %q has no property %q", o.class.Name, name)
	}

	old := o.values[name]
	if valuesEqual(field, old, value) {
		return nil
	}

	switch field.Kind {
	case KindRef:
		if oldRef, ok := old.(*Object); ok && oldRef != nil {
			oldRef.removeParent(o, name)
		}
		if newRef, ok := value.(*Object); ok && newRef != nil {
			newRef.addParent(o, name)
		}
	case KindRefList:
		oldList, _ := old.([]*Object)
		newList, _ := value.([]*Object)
		o.diffRefList(name, oldList, newList)
	}

	o.values[name] = value
	o.propertyChanged.Fire(PropertyChange{Object: o, Name: name, Old: old, New: value})

	// Derived properties are only announced here; their value is computed
	// lazily by Get, so Old and New are left nil.
	for _, d := range o.class.sourceIndex[name] {
		o.propertyChanged.Fire(PropertyChange{Object: o, Name: d})
	}

	if o.scope != nil && !o.scope.RemoteApplying() {
		o.scope.Changed(o, name)
	}
	return nil
}

// diffRefList updates backreferences and fires one CollectionChanged per
// removed/added element when a whole collection-of-refs property is
// replaced via Set.
func (o *Object) diffRefList(property string, oldList, newList []*Object) {
	oldCount := make(map[*Object]int, len(oldList))
	for _, c := range oldList {
		oldCount[c]++
	}
	newCount := make(map[*Object]int, len(newList))
	for _, c := range newList {
		newCount[c]++
	}

	for i, c := range oldList {
		if c == nil {
			continue
		}
		if newCount[c] > 0 {
			newCount[c]--
			continue
		}
		c.removeParent(o, property)
		o.collectionChanged.Fire(CollectionChange{Object: o, Property: property, Op: CollectionRemoved, Index: i, Value: c})
	}
	for i, c := range newList {
		if c == nil {
			continue
		}
		if oldCount[c] > 0 {
			oldCount[c]--
			continue
		}
		c.addParent(o, property)
		o.collectionChanged.Fire(CollectionChange{Object: o, Property: property, Op: CollectionAdded, Index: i, Value: c})
	}
}

func (o *Object) addParent(parent *Object, property string) {
	o.parents[ParentRef{Parent: parent, Property: property}]++
}

func (o *Object) removeParent(parent *Object, property string) {
	key := ParentRef{Parent: parent, Property: property}
	if o.parents[key] <= 1 {
		delete(o.parents, key)
		return
	}
	o.parents[key]--
}

// Parents returns the live (parent, property) back-references, expanded to
// reflect the multiset count (spec.md §3's "multiset of (parent, property)").
func (o *Object) Parents() []ParentRef {
	out := make([]ParentRef, 0, len(o.parents))
	for ref, count := range o.parents {
		for i := 0; i < count; i++ {
			out = append(out, ref)
		}
	}
	return out
}

func (o *Object) OnPropertyChanged(key any, fn func(PropertyChange)) {
	o.propertyChanged.Listen(key, fn)
}

func (o *Object) OnCollectionChanged(key any, fn func(CollectionChange)) {
	o.collectionChanged.Listen(key, fn)
}

func (o *Object) OnDetached(key any, fn func()) {
	o.detached.Listen(key, func(struct{}) { fn() })
}

// RemoveAllListeners deregisters key from all three signals at once — the
// pattern spec.md §9 calls for so a single caller can tear down everything
// it registered in one call.
func (o *Object) RemoveAllListeners(key any) {
	o.propertyChanged.RemoveListener(key)
	o.collectionChanged.RemoveListener(key)
	o.detached.RemoveListener(key)
}

func valuesEqual(field Field, old, new any) bool {
	if field.Kind == KindRef {
		oldObj, _ := old.(*Object)
		newObj, _ := new.(*Object)
		return oldObj == newObj
	}
	if field.Kind == KindRefList {
		return false // always diffed explicitly; never treated as a no-op
	}
	if old == nil || new == nil {
		return old == nil && new == nil
	}
	if field.Tag == codec.TagDate {
		oldT, okOld := old.(time.Time)
		newT, okNew := new.(time.Time)
		if okOld && okNew {
			return oldT.Equal(newT)
		}
	}
	return old == new
}
