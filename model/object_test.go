package model

import (
	"testing"

	"github.com/go-jetstream/jetstream/codec"
)

// fakeContainer is a minimal Container used to observe what Object reports
// without pulling in the scope package (which itself depends on model).
type fakeContainer struct {
	remoteApplying bool
	changes        []string
}

func (f *fakeContainer) RemoteApplying() bool { return f.remoteApplying }
func (f *fakeContainer) Changed(obj *Object, property string) {
	f.changes = append(f.changes, property)
}

func shapeClass() *ClassDescriptor {
	c := NewClass("Shape",
		Field{Name: "x", Tag: codec.TagInt, Kind: KindScalar},
		Field{Name: "y", Tag: codec.TagInt, Kind: KindScalar},
		Field{Name: "first", Tag: codec.TagString, Kind: KindScalar},
		Field{Name: "last", Tag: codec.TagString, Kind: KindScalar},
		Field{Name: "parent", Tag: codec.TagModelObjectRef, Kind: KindRef},
		Field{Name: "children", Tag: codec.TagArrayOfRefs, Kind: KindRefList},
	)
	c.WithComposite("display", []string{"first", "last"}, func(o *Object) any {
		return o.Get("first").(string) + " " + o.Get("last").(string)
	})
	return c
}

func TestSetNoopOnEqualValue(t *testing.T) {
	o := New(shapeClass())
	fc := &fakeContainer{}
	o.SetContainer(fc)

	if err := o.Set("x", int64(10)); err != nil {
		t.Fatal(err)
	}
	if err := o.Set("x", int64(10)); err != nil {
		t.Fatal(err)
	}
	if len(fc.changes) != 1 {
		t.Fatalf("expected 1 reported change, got %d: %v", len(fc.changes), fc.changes)
	}
}

func TestSetFiresPropertyChanged(t *testing.T) {
	o := New(shapeClass())
	var got []PropertyChange
	o.OnPropertyChanged("test", func(pc PropertyChange) { got = append(got, pc) })

	if err := o.Set("x", int64(5)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "x" || got[0].New != int64(5) {
		t.Fatalf("unexpected observations: %v", got)
	}
}

func TestCompositeFiresOnSourceChange(t *testing.T) {
	o := New(shapeClass())
	o.Set("first", "A")
	o.Set("last", "Smith")

	var names []string
	o.OnPropertyChanged("test", func(pc PropertyChange) { names = append(names, pc.Name) })

	if err := o.Set("first", "B"); err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "first" || names[1] != "display" {
		t.Fatalf("expected [first display], got %v", names)
	}
	if got := o.Get("display"); got != "B Smith" {
		t.Fatalf("display = %v, want %q", got, "B Smith")
	}
}

func TestRefSetUpdatesBackPointers(t *testing.T) {
	parent := New(shapeClass())
	child := New(shapeClass())

	if err := parent.Set("parent", child); err != nil {
		t.Fatal(err)
	}
	refs := child.Parents()
	if len(refs) != 1 || refs[0].Parent != parent || refs[0].Property != "parent" {
		t.Fatalf("expected one backref to parent/parent, got %v", refs)
	}

	if err := parent.Set("parent", nil); err != nil {
		t.Fatal(err)
	}
	if len(child.Parents()) != 0 {
		t.Fatalf("expected backref removed, got %v", child.Parents())
	}
}

func TestRefListDiffFiresAddRemoveAndBackrefs(t *testing.T) {
	parent := New(shapeClass())
	a := New(shapeClass())
	b := New(shapeClass())
	c := New(shapeClass())

	var ops []CollectionChange
	parent.OnCollectionChanged("test", func(cc CollectionChange) { ops = append(ops, cc) })

	if err := parent.Set("children", []*Object{a, b}); err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 add ops, got %d", len(ops))
	}
	if len(a.Parents()) != 1 || len(b.Parents()) != 1 {
		t.Fatal("expected backrefs on a and b")
	}

	ops = nil
	if err := parent.Set("children", []*Object{b, c}); err != nil {
		t.Fatal(err)
	}
	var removed, added int
	for _, op := range ops {
		if op.Op == CollectionRemoved {
			removed++
		} else {
			added++
		}
	}
	if removed != 1 || added != 1 {
		t.Fatalf("expected 1 removed + 1 added, got removed=%d added=%d", removed, added)
	}
	if len(a.Parents()) != 0 {
		t.Fatal("expected a's backref removed")
	}
	if len(c.Parents()) != 1 {
		t.Fatal("expected c's backref added")
	}
}

func TestRemoteApplyingSuppressesScopeNotification(t *testing.T) {
	o := New(shapeClass())
	fc := &fakeContainer{remoteApplying: true}
	o.SetContainer(fc)

	if err := o.Set("x", int64(1)); err != nil {
		t.Fatal(err)
	}
	if len(fc.changes) != 0 {
		t.Fatalf("expected no scope notification while remote-applying, got %v", fc.changes)
	}
}

func TestDetachFiresObservation(t *testing.T) {
	o := New(shapeClass())
	fired := false
	o.OnDetached("test", func() { fired = true })
	o.MarkDetached()
	if !fired {
		t.Fatal("expected Detached observation to fire")
	}
	if o.Container() != nil {
		t.Fatal("expected container cleared after detach")
	}
}

func TestRemoveAllListenersClearsAllThreeSignals(t *testing.T) {
	o := New(shapeClass())
	var propFired, collFired, detFired bool
	o.OnPropertyChanged("k", func(PropertyChange) { propFired = true })
	o.OnCollectionChanged("k", func(CollectionChange) { collFired = true })
	o.OnDetached("k", func() { detFired = true })

	o.RemoveAllListeners("k")

	o.Set("x", int64(1))
	o.Set("children", []*Object{New(shapeClass())})
	o.MarkDetached()

	if propFired || collFired || detFired {
		t.Fatalf("expected no listeners to fire after RemoveAllListeners, got prop=%v coll=%v det=%v", propFired, collFired, detFired)
	}
}

func TestSetUnknownPropertyErrors(t *testing.T) {
	o := New(shapeClass())
	if err := o.Set("nope", 1); err == nil {
		t.Fatal("expected error for unknown property")
	}
}
