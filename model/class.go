package model

import (
	"fmt"
	"sync"

	"github.com/go-jetstream/jetstream/codec"
)

// FieldKind distinguishes scalar properties from reference properties, the
// two cases that change capture and wire encoding treat differently.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindRef
	KindRefList
)

// Field describes one property of a class: its name, wire tag, and whether
// it holds a reference (or collection of references) to another ModelObject.
type Field struct {
	Name string
	Tag  codec.Tag
	Kind FieldKind
}

// ClassDescriptor is the static, per-class property schema spec.md §9 calls
// for in place of runtime reflection: field names and tags declared once,
// with composite (derived) property dependencies attached the same way.
type ClassDescriptor struct {
	Name string

	fields map[string]Field
	order  []string

	// composite maps a derived property name to the source property names
	// whose changes should re-fire it.
	composite map[string][]string
	// sourceIndex is composite's reverse index: source name -> derived names.
	sourceIndex map[string][]string
	// compute holds the lazy re-evaluation function for each derived name.
	compute map[string]func(*Object) any
}

// NewClass builds a ClassDescriptor from its fields, in declaration order.
// The full property snapshot a SyncFragment "add" carries is built in this
// order.
func NewClass(name string, fields ...Field) *ClassDescriptor {
	c := &ClassDescriptor{
		Name:        name,
		fields:      make(map[string]Field, len(fields)),
		order:       make([]string, 0, len(fields)),
		composite:   make(map[string][]string),
		sourceIndex: make(map[string][]string),
		compute:     make(map[string]func(*Object) any),
	}
	for _, f := range fields {
		c.fields[f.Name] = f
		c.order = append(c.order, f.Name)
	}
	return c
}

// WithComposite declares a derived property: whenever any of sources
// changes, a PropertyChanged observation fires for derived too, and fn
// recomputes its value lazily on read (spec.md §4.B).
func (c *ClassDescriptor) WithComposite(derived string, sources []string, fn func(*Object) any) *ClassDescriptor {
	c.composite[derived] = sources
	c.compute[derived] = fn
	for _, src := range sources {
		c.sourceIndex[src] = append(c.sourceIndex[src], derived)
	}
	return c
}

// Field looks up a declared property by name.
func (c *ClassDescriptor) Field(name string) (Field, bool) {
	f, ok := c.fields[name]
	return f, ok
}

// Fields returns the declared fields in declaration order.
func (c *ClassDescriptor) Fields() []Field {
	out := make([]Field, len(c.order))
	for i, name := range c.order {
		out[i] = c.fields[name]
	}
	return out
}

// IsComposite reports whether name is a derived property on this class.
func (c *ClassDescriptor) IsComposite(name string) bool {
	_, ok := c.compute[name]
	return ok
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*ClassDescriptor{}
)

// Register makes a class lookup-able by name, as required when a SyncFragment
// names a class for "add" or "root" and the target object doesn't exist yet.
func Register(c *ClassDescriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Name] = c
}

// Lookup finds a previously Register-ed class by name.
func Lookup(name string) (*ClassDescriptor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("model: no class registered with name %q", name)
	}
	return c, nil
}
