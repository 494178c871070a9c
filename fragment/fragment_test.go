package fragment

import (
	"log/slog"
	"testing"

	"github.com/go-jetstream/jetstream/codec"
	"github.com/go-jetstream/jetstream/model"
	"github.com/google/uuid"
)

func init() {
	model.Register(shapeClass())
}

func shapeClass() *model.ClassDescriptor {
	return model.NewClass("Shape",
		model.Field{Name: "x", Tag: codec.TagInt, Kind: model.KindScalar},
		model.Field{Name: "color", Tag: codec.TagColor, Kind: model.KindScalar},
		model.Field{Name: "parent", Tag: codec.TagModelObjectRef, Kind: model.KindRef},
		model.Field{Name: "children", Tag: codec.TagArrayOfRefs, Kind: model.KindRefList},
	)
}

// fakeResolver is a minimal in-memory Resolver for testing Apply without
// pulling in the scope package.
type fakeResolver struct {
	objects map[uuid.UUID]*model.Object
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{objects: make(map[uuid.UUID]*model.Object)}
}

func (f *fakeResolver) Lookup(id uuid.UUID) (*model.Object, bool) {
	o, ok := f.objects[id]
	return o, ok
}

func (f *fakeResolver) Instantiate(class *model.ClassDescriptor, id uuid.UUID) (*model.Object, error) {
	o := model.NewWithUUID(class, id)
	f.objects[id] = o
	return o, nil
}

func TestBuildAddFullSnapshot(t *testing.T) {
	o := model.New(shapeClass())
	o.Set("x", int64(10))
	o.Set("color", codec.Color(0xff0000ff))

	frag, err := BuildAdd(o)
	if err != nil {
		t.Fatal(err)
	}
	if frag.Kind != KindAdd || frag.Class != "Shape" || frag.UUID != o.UUID() {
		t.Fatalf("unexpected fragment: %+v", frag)
	}
	if frag.Properties["x"] != int64(10) {
		t.Fatalf("x = %v", frag.Properties["x"])
	}
	if _, ok := frag.Properties["children"].([]string); !ok {
		t.Fatalf("expected children to encode as []string even when empty, got %T", frag.Properties["children"])
	}
}

func TestBuildChangeOnlyListedNames(t *testing.T) {
	o := model.New(shapeClass())
	o.Set("x", int64(1))
	o.Set("color", codec.Color(1))

	frag, err := BuildChange(o, []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(frag.Properties) != 1 {
		t.Fatalf("expected 1 property, got %v", frag.Properties)
	}
	if _, ok := frag.Properties["color"]; ok {
		t.Fatal("expected color to be absent from change fragment")
	}
}

func TestApplyAddInstantiatesAndSetsProperties(t *testing.T) {
	r := newFakeResolver()
	id := uuid.New()
	frags := []*Fragment{
		{Kind: KindAdd, UUID: id, Class: "Shape", Properties: map[string]any{"x": float64(5)}},
	}
	if _, err := ApplyBatch(r, frags, nil); err != nil {
		t.Fatal(err)
	}
	obj, ok := r.Lookup(id)
	if !ok {
		t.Fatal("expected object to be instantiated")
	}
	if obj.Get("x") != int64(5) {
		t.Fatalf("x = %v", obj.Get("x"))
	}
}

func TestApplyDuplicateAddIsIdempotent(t *testing.T) {
	r := newFakeResolver()
	id := uuid.New()
	frags := []*Fragment{
		{Kind: KindAdd, UUID: id, Class: "Shape", Properties: map[string]any{"x": float64(1)}},
		{Kind: KindAdd, UUID: id, Class: "Shape", Properties: map[string]any{"x": float64(2)}},
	}
	if _, err := ApplyBatch(r, frags, nil); err != nil {
		t.Fatal(err)
	}
	obj, _ := r.Lookup(id)
	if obj.Get("x") != int64(2) {
		t.Fatalf("expected second add to act as change, x = %v", obj.Get("x"))
	}
}

func TestApplyForwardReferenceWithinBatchResolves(t *testing.T) {
	r := newFakeResolver()
	parentID := uuid.New()
	childID := uuid.New()

	// Parent references a child added later in the same batch — the
	// two-pass rule must still resolve it.
	frags := []*Fragment{
		{Kind: KindAdd, UUID: parentID, Class: "Shape", Properties: map[string]any{"parent": childID.String()}},
		{Kind: KindAdd, UUID: childID, Class: "Shape"},
	}
	if _, err := ApplyBatch(r, frags, nil); err != nil {
		t.Fatal(err)
	}
	parent, _ := r.Lookup(parentID)
	child, _ := r.Lookup(childID)
	if parent.Get("parent").(*model.Object) != child {
		t.Fatal("expected forward reference to resolve to the child added later in the batch")
	}
}

func TestApplyUnresolvedRefBecomesNull(t *testing.T) {
	r := newFakeResolver()
	id := uuid.New()
	frags := []*Fragment{
		{Kind: KindAdd, UUID: id, Class: "Shape", Properties: map[string]any{"parent": uuid.New().String()}},
	}
	if _, err := ApplyBatch(r, frags, slog.Default()); err != nil {
		t.Fatal(err)
	}
	obj, _ := r.Lookup(id)
	if obj.Get("parent") != nil {
		t.Fatalf("expected unresolved ref to become nil, got %v", obj.Get("parent"))
	}
}

func TestApplyChangeOnUnknownObjectIsDropped(t *testing.T) {
	r := newFakeResolver()
	frags := []*Fragment{
		{Kind: KindChange, UUID: uuid.New(), Properties: map[string]any{"x": float64(1)}},
	}
	if _, err := ApplyBatch(r, frags, slog.Default()); err != nil {
		t.Fatal(err)
	}
}

func TestApplyRootReturnsRootObject(t *testing.T) {
	r := newFakeResolver()
	id := uuid.New()
	frags := []*Fragment{
		{Kind: KindRoot, UUID: id, Class: "Shape"},
	}
	root, err := ApplyBatch(r, frags, nil)
	if err != nil {
		t.Fatal(err)
	}
	if root == nil || root.UUID() != id {
		t.Fatalf("expected root object with uuid %s, got %v", id, root)
	}
}
