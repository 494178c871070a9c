// Package scope implements the Scope component (spec.md §4.D): the
// transactional boundary that owns a connected sub-graph of model.Objects,
// coalesces local edits into outbound SyncFragments, and applies inbound
// fragments in a guarded "remote-apply" mode.
package scope

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-jetstream/jetstream/fragment"
	"github.com/go-jetstream/jetstream/model"
	"github.com/google/uuid"
)

// ErrUnpairedRemoteApply is the panic value for an EndApplyingRemote call
// with no matching StartApplyingRemote — a programmer error, fatal per
// spec.md §7's "Unpaired remote-apply" row.
var ErrUnpairedRemoteApply = errors.New("scope: endApplyingRemote called without a matching startApplyingRemote")

// ChangeObserver receives one ordered batch of outbound SyncFragments per
// flush. Scope supports exactly one registered observer — the Client
// (spec.md §4.D: "the single registered change observer").
type ChangeObserver func(frags []*fragment.Fragment)

// Option configures a Scope at construction.
type Option func(*Scope)

// WithLogger overrides the scope's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Scope) { s.log = log }
}

// WithScheduler overrides how a deferred flush is armed. The function
// receives the flush thunk and is responsible for running it later, once,
// on the application's single logical thread (spec.md §5). The zero-value
// default arms a zero-delay timer; Client overrides this to post onto its
// own run-loop channel instead, so ordering against other app-thread work
// is preserved rather than racing an arbitrary goroutine.
func WithScheduler(schedule func(func())) Option {
	return func(s *Scope) { s.schedule = schedule }
}

// Scope owns one connected object graph rooted at an (optional) root
// object, reconciling local edits into SyncFragments and applying inbound
// ones (spec.md §3 "Scope", §4.D).
type Scope struct {
	name string
	log  *slog.Logger

	root        *model.Object
	rootChanged bool
	objects     map[uuid.UUID]*model.Object

	remoteApplying int

	dirtyOrder []uuid.UUID
	dirtyProps map[uuid.UUID][]string
	flushArmed bool
	schedule   func(func())

	onChange      ChangeObserver
	onRemoteApply ChangeObserver
}

// New constructs a detached Scope named for logging/diagnostics purposes
// (e.g. the name requested via ScopeFetch). A freshly constructed Scope has
// no root and is not yet attached to anything.
func New(name string, opts ...Option) *Scope {
	s := &Scope{
		name:       name,
		objects:    make(map[uuid.UUID]*model.Object),
		dirtyProps: make(map[uuid.UUID][]string),
		log:        slog.Default(),
		schedule:   func(fn func()) { time.AfterFunc(0, fn) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the scope's diagnostic name.
func (s *Scope) Name() string { return s.name }

// Root returns the current root object, or nil if none is attached.
func (s *Scope) Root() *model.Object { return s.root }

// AttachRoot installs obj as the scope's root. The reachability walk at the
// next flush discovers obj (and everything reachable from it) as "add"
// fragments, plus a "root" fragment naming obj itself (spec.md §4.C "If the
// Scope's root itself was reassigned, emit type=root").
func (s *Scope) AttachRoot(obj *model.Object) {
	s.root = obj
	s.rootChanged = true
	s.armFlush()
}

// DetachRoot clears the scope's root. Everything previously reachable
// becomes unreachable at the next flush and fires Detached observations.
func (s *Scope) DetachRoot() {
	s.root = nil
	s.rootChanged = false
	s.armFlush()
}

// GetObjectByUUID is the scope's public lookup contract (spec.md §4.D).
func (s *Scope) GetObjectByUUID(id uuid.UUID) (*model.Object, bool) {
	return s.Lookup(id)
}

// Lookup implements fragment.Resolver.
func (s *Scope) Lookup(id uuid.UUID) (*model.Object, bool) {
	obj, ok := s.objects[id]
	return obj, ok
}

// Instantiate implements fragment.Resolver: it creates a new Object bound
// to this scope and indexes it immediately, so later fragments in the same
// inbound batch can resolve forward references to it (spec.md §4.C
// "implementations MAY apply in two passes").
func (s *Scope) Instantiate(class *model.ClassDescriptor, id uuid.UUID) (*model.Object, error) {
	obj := model.NewWithUUID(class, id)
	obj.SetContainer(s)
	s.objects[id] = obj
	return obj, nil
}

// RemoteApplying implements model.Container.
func (s *Scope) RemoteApplying() bool { return s.remoteApplying > 0 }

// Changed implements model.Container: a locally authored edit on obj's
// property arms a deferred flush and records the property name once per
// tick (spec.md §4.D "Local change coalescing").
func (s *Scope) Changed(obj *model.Object, property string) {
	id := obj.UUID()
	names, seen := s.dirtyProps[id]
	if !seen {
		s.dirtyOrder = append(s.dirtyOrder, id)
	}
	for _, n := range names {
		if n == property {
			s.armFlush()
			return
		}
	}
	s.dirtyProps[id] = append(names, property)
	s.armFlush()
}

// StartApplyingRemote enters remote-apply mode, suppressing local change
// capture. Must be paired with EndApplyingRemote (spec.md §4.D).
func (s *Scope) StartApplyingRemote() {
	s.remoteApplying++
}

// EndApplyingRemote exits remote-apply mode. Calling it without a matching
// StartApplyingRemote panics with ErrUnpairedRemoteApply — a programmer
// error, not a recoverable runtime condition (spec.md §7).
func (s *Scope) EndApplyingRemote() {
	if s.remoteApplying <= 0 {
		panic(ErrUnpairedRemoteApply)
	}
	s.remoteApplying--
}

// ApplyRootFragment implements spec.md §4.D "Root fragment application
// order": enters remote-apply mode, installs/reconciles the root named by
// rootFrag, applies extras using the two-pass add/change rule, then exits
// remote-apply mode. It returns the resolved root object.
func (s *Scope) ApplyRootFragment(rootFrag *fragment.Fragment, extras []*fragment.Fragment) (*model.Object, error) {
	s.StartApplyingRemote()
	defer s.EndApplyingRemote()

	batch := make([]*fragment.Fragment, 0, len(extras)+1)
	batch = append(batch, rootFrag)
	batch = append(batch, extras...)

	root, err := fragment.ApplyBatch(s, batch, s.log)
	if err != nil {
		return nil, err
	}
	if root != nil {
		s.root = root
		s.rootChanged = false // installed via remote state, not a local reassignment
	}
	if s.onRemoteApply != nil {
		s.onRemoteApply(batch)
	}
	return root, nil
}

// ApplySyncFragments applies an incremental inbound batch (spec.md §4.C,
// §4.D), entering and exiting remote-apply mode around it. Callers
// (jetstream.Client) are responsible for logging and skipping empty
// batches per spec.md §4.H.
func (s *Scope) ApplySyncFragments(frags []*fragment.Fragment) error {
	s.StartApplyingRemote()
	defer s.EndApplyingRemote()

	root, err := fragment.ApplyBatch(s, frags, s.log)
	if err != nil {
		return err
	}
	if root != nil {
		s.root = root
	}
	if s.onRemoteApply != nil {
		s.onRemoteApply(frags)
	}
	return nil
}

// ObserveChanges registers the scope's single change observer, replacing
// any previously registered one.
func (s *Scope) ObserveChanges(cb ChangeObserver) {
	s.onChange = cb
}

// ObserveRemoteFragments registers an observer that fires with the fragment
// batch just applied via ApplyRootFragment or ApplySyncFragments — the
// inbound counterpart to ObserveChanges, for callers that want to observe
// server-sent state rather than only their own locally authored edits.
func (s *Scope) ObserveRemoteFragments(cb ChangeObserver) {
	s.onRemoteApply = cb
}

// FlushNow forces an immediate flush, bypassing the deferred-flush timer.
// Tests use this to get deterministic fragment batches without sleeping on
// a real timer.
func (s *Scope) FlushNow() {
	s.flushArmed = false
	s.flush()
}

func (s *Scope) armFlush() {
	if s.flushArmed {
		return
	}
	s.flushArmed = true
	s.schedule(func() {
		s.flushArmed = false
		s.flush()
	})
}

// flush implements spec.md §4.D's four-step coalescing algorithm.
func (s *Scope) flush() {
	reachable, order := s.walkReachable()

	var frags []*fragment.Fragment

	if s.rootChanged && s.root != nil {
		frags = append(frags, fragment.BuildRoot(s.root))
		s.rootChanged = false
	}

	for _, id := range order {
		if _, existed := s.objects[id]; existed {
			continue
		}
		obj := reachable[id]
		obj.SetContainer(s)
		s.objects[id] = obj
		frag, err := fragment.BuildAdd(obj)
		if err != nil {
			s.log.Error("scope: building add fragment", "uuid", id, "error", err)
			continue
		}
		frags = append(frags, frag)
		delete(s.dirtyProps, id)
	}

	for id, obj := range s.objects {
		if _, ok := reachable[id]; ok {
			continue
		}
		obj.MarkDetached()
		delete(s.objects, id)
		delete(s.dirtyProps, id)
	}

	for _, id := range s.dirtyOrder {
		names, ok := s.dirtyProps[id]
		if !ok {
			continue // already emitted as an add, or detached before flush ran
		}
		obj, ok := s.objects[id]
		if !ok {
			continue
		}
		frag, err := fragment.BuildChange(obj, names)
		if err != nil {
			s.log.Error("scope: building change fragment", "uuid", id, "error", err)
			continue
		}
		frags = append(frags, frag)
	}

	s.dirtyOrder = nil
	s.dirtyProps = make(map[uuid.UUID][]string)

	if len(frags) > 0 && s.onChange != nil {
		s.onChange(frags)
	}
}

// walkReachable computes every object reachable from the root via ref and
// ref-list properties, plus the discovery (pre-)order, used to decide which
// objects are new (spec.md §4.D step 1).
func (s *Scope) walkReachable() (map[uuid.UUID]*model.Object, []uuid.UUID) {
	reachable := make(map[uuid.UUID]*model.Object)
	var order []uuid.UUID
	if s.root == nil {
		return reachable, order
	}

	var visit func(o *model.Object)
	visit = func(o *model.Object) {
		if _, ok := reachable[o.UUID()]; ok {
			return
		}
		reachable[o.UUID()] = o
		order = append(order, o.UUID())
		for _, field := range o.Class().Fields() {
			switch field.Kind {
			case model.KindRef:
				if child, ok := o.Get(field.Name).(*model.Object); ok && child != nil {
					visit(child)
				}
			case model.KindRefList:
				if list, ok := o.Get(field.Name).([]*model.Object); ok {
					for _, child := range list {
						if child != nil {
							visit(child)
						}
					}
				}
			}
		}
	}
	visit(s.root)
	return reachable, order
}
