package scope

import (
	"testing"

	"github.com/go-jetstream/jetstream/codec"
	"github.com/go-jetstream/jetstream/fragment"
	"github.com/go-jetstream/jetstream/model"
	"github.com/google/uuid"
)

func init() {
	model.Register(nodeClass())
}

func nodeClass() *model.ClassDescriptor {
	return model.NewClass("Node",
		model.Field{Name: "x", Tag: codec.TagInt, Kind: model.KindScalar},
		model.Field{Name: "y", Tag: codec.TagInt, Kind: model.KindScalar},
		model.Field{Name: "child", Tag: codec.TagModelObjectRef, Kind: model.KindRef},
		model.Field{Name: "children", Tag: codec.TagArrayOfRefs, Kind: model.KindRefList},
	)
}

func TestAttachRootEmitsRootAndAddFragments(t *testing.T) {
	s := New("test")
	var got []*fragment.Fragment
	s.ObserveChanges(func(frags []*fragment.Fragment) { got = frags })

	root := model.New(nodeClass())
	s.AttachRoot(root)
	s.FlushNow()

	if len(got) != 2 {
		t.Fatalf("expected root+add, got %d fragments: %+v", len(got), got)
	}
	if got[0].Kind != fragment.KindRoot || got[0].UUID != root.UUID() {
		t.Fatalf("expected first fragment to be root, got %+v", got[0])
	}
	if got[1].Kind != fragment.KindAdd || got[1].UUID != root.UUID() {
		t.Fatalf("expected second fragment to be add for root, got %+v", got[1])
	}
}

func TestChildBecomesReachableAsAddOnAttach(t *testing.T) {
	s := New("test")
	var got []*fragment.Fragment
	s.ObserveChanges(func(frags []*fragment.Fragment) { got = frags })

	root := model.New(nodeClass())
	child := model.New(nodeClass())
	root.Set("child", child) // before attach: scope is nil, no capture yet

	s.AttachRoot(root)
	s.FlushNow()

	foundChild := false
	for _, f := range got {
		if f.Kind == fragment.KindAdd && f.UUID == child.UUID() {
			foundChild = true
		}
	}
	if !foundChild {
		t.Fatalf("expected child to be discovered and added via reachability walk, got %+v", got)
	}
}

func TestCoalescesNPropertySetsIntoOneChangeFragment(t *testing.T) {
	s := New("test")
	root := model.New(nodeClass())
	s.AttachRoot(root)
	s.FlushNow()

	var got []*fragment.Fragment
	s.ObserveChanges(func(frags []*fragment.Fragment) { got = frags })

	root.Set("x", int64(1))
	root.Set("y", int64(2))
	s.FlushNow()

	if len(got) != 1 {
		t.Fatalf("expected exactly one fragment for two property writes in one tick, got %d: %+v", len(got), got)
	}
	if got[0].Kind != fragment.KindChange {
		t.Fatalf("expected a change fragment, got %+v", got[0])
	}
	if len(got[0].Properties) != 2 {
		t.Fatalf("expected both x and y in the one change fragment, got %v", got[0].Properties)
	}
}

func TestUnreachableObjectFiresDetach(t *testing.T) {
	s := New("test")
	root := model.New(nodeClass())
	child := model.New(nodeClass())
	root.Set("child", child)
	s.AttachRoot(root)
	s.FlushNow()

	detached := false
	child.OnDetached("test", func() { detached = true })

	root.Set("child", nil)
	s.FlushNow()

	if !detached {
		t.Fatal("expected child to fire Detached once no longer reachable")
	}
	if _, ok := s.GetObjectByUUID(child.UUID()); ok {
		t.Fatal("expected child removed from the uuid index")
	}
}

func TestRemoteApplyFiresObserveRemoteFragments(t *testing.T) {
	s := New("test")
	var got []*fragment.Fragment
	s.ObserveRemoteFragments(func(frags []*fragment.Fragment) { got = frags })

	rootFrag := &fragment.Fragment{Kind: fragment.KindRoot, UUID: uuid.New(), Class: "Node"}
	if _, err := s.ApplyRootFragment(rootFrag, nil); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0] != rootFrag {
		t.Fatalf("expected ObserveRemoteFragments to fire with the applied root fragment, got %+v", got)
	}
}

func TestRemoteApplyNeverProducesOutboundFragment(t *testing.T) {
	s := New("test")
	var got []*fragment.Fragment
	s.ObserveChanges(func(frags []*fragment.Fragment) { got = frags })

	rootFrag := &fragment.Fragment{Kind: fragment.KindRoot, UUID: uuid.New(), Class: "Node"}
	root, err := s.ApplyRootFragment(rootFrag, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.FlushNow()

	if root == nil {
		t.Fatal("expected a root object")
	}
	if got != nil {
		t.Fatalf("expected no outbound fragments from a remote-apply step, got %+v", got)
	}
}

func TestApplyRootFragmentWithExtras(t *testing.T) {
	s := New("test")
	rootID := uuid.New()
	childID := uuid.New()

	rootFrag := &fragment.Fragment{Kind: fragment.KindRoot, UUID: rootID, Class: "Node"}
	extras := []*fragment.Fragment{
		{Kind: fragment.KindAdd, UUID: childID, Class: "Node", Properties: map[string]any{"x": float64(10)}},
		{Kind: fragment.KindChange, UUID: rootID, Properties: map[string]any{"child": childID.String()}},
	}

	root, err := s.ApplyRootFragment(rootFrag, extras)
	if err != nil {
		t.Fatal(err)
	}
	if root.UUID() != rootID {
		t.Fatalf("unexpected root uuid %s", root.UUID())
	}
	child, ok := s.GetObjectByUUID(childID)
	if !ok {
		t.Fatal("expected child installed in uuid index")
	}
	if child.Get("x") != int64(10) {
		t.Fatalf("child.x = %v", child.Get("x"))
	}
	if root.Get("child").(*model.Object) != child {
		t.Fatal("expected root.child to resolve to the installed child")
	}
}

func TestUnpairedEndApplyingRemotePanics(t *testing.T) {
	s := New("test")
	defer func() {
		r := recover()
		if r != ErrUnpairedRemoteApply {
			t.Fatalf("expected panic(ErrUnpairedRemoteApply), got %v", r)
		}
	}()
	s.EndApplyingRemote()
}

func TestDetachRootFiresDetachOnEverything(t *testing.T) {
	s := New("test")
	root := model.New(nodeClass())
	s.AttachRoot(root)
	s.FlushNow()

	detached := false
	root.OnDetached("test", func() { detached = true })

	s.DetachRoot()
	s.FlushNow()

	if !detached {
		t.Fatal("expected root to fire Detached once the scope's root is cleared")
	}
}
