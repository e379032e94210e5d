package pager

import (
	"sort"
	"sync"
	"sync/atomic"

	"zonepager.ai/internal/pager/grid"
)

type SlotID uint64

type State int32

const (
	Unbuilt State = iota
	Queued
	Built
	Applied
	Rebuilding
	ReleasePending
	Released
)

func (s State) String() string {
	switch s {
	case Unbuilt:
		return "UNBUILT"
	case Queued:
		return "QUEUED"
	case Built:
		return "BUILT"
	case Applied:
		return "APPLIED"
	case Rebuilding:
		return "REBUILDING"
	case ReleasePending:
		return "RELEASE_PENDING"
	case Released:
		return "RELEASED"
	default:
		return "UNKNOWN"
	}
}

// arena holds every live slot of one window hierarchy. Dependency edges are
// sets of SlotIDs resolved through it, so slots never own each other.
type arena struct {
	exec     Executor
	observer Observer

	next  SlotID
	slots map[SlotID]*Slot

	mu       sync.Mutex
	inflight map[SlotID]struct{}
}

func newArena(exec Executor, observer Observer) *arena {
	return &arena{
		exec:     exec,
		observer: observer,
		slots:    map[SlotID]*Slot{},
		inflight: map[SlotID]struct{}{},
	}
}

func (a *arena) add(s *Slot) {
	a.next++
	s.id = a.next
	a.slots[s.id] = s
}

func (a *arena) get(id SlotID) *Slot { return a.slots[id] }

func (a *arena) track(id SlotID) {
	a.mu.Lock()
	a.inflight[id] = struct{}{}
	a.mu.Unlock()
}

func (a *arena) untrack(id SlotID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inflight[id]; !ok {
		return false
	}
	delete(a.inflight, id)
	return true
}

func (a *arena) inflightCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

// Slot schedules one zone. Apart from Build, every method runs on the
// coordinating goroutine.
type Slot struct {
	id      SlotID
	window  *Window
	cell    grid.Cell
	content Content

	state atomic.Int32
	built atomic.Bool

	applied   bool
	releasing bool
	finishing bool

	parents  map[SlotID]struct{}
	children map[SlotID]struct{}
}

func (s *Slot) ID() SlotID         { return s.id }
func (s *Slot) Cell() grid.Cell    { return s.cell }
func (s *Slot) Content() Content   { return s.content }
func (s *Slot) Window() *Window    { return s.window }
func (s *Slot) State() State       { return State(s.state.Load()) }
func (s *Slot) BuiltOnce() bool    { return s.built.Load() }
func (s *Slot) Releasing() bool    { return s.releasing }
func (s *Slot) NumChildren() int   { return len(s.children) }
func (s *Slot) NumParents() int    { return len(s.parents) }
func (s *Slot) Priority() int      { return s.content.Priority() }
func (s *Slot) arena() *arena      { return s.window.arena }
func (s *Slot) executor() Executor { return s.window.arena.exec }

func (s *Slot) String() string {
	return s.window.name + s.cell.String()
}

func (s *Slot) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.notify(from, to)
}

func (s *Slot) notify(from, to State) {
	if obs := s.arena().observer; obs != nil {
		obs.SlotTransition(Transition{Window: s.window.name, Slot: s.id, Cell: s.cell, From: from, To: to})
	}
}

// Build is called by the executor on a worker goroutine.
func (s *Slot) Build() {
	s.built.Store(true)
	s.arena().track(s.id)
	s.content.Build()
	for _, from := range []State{Queued, Rebuilding} {
		if s.state.CompareAndSwap(int32(from), int32(Built)) {
			s.notify(from, Built)
			return
		}
	}
}

// Apply is called by the executor once Build has completed.
func (s *Slot) Apply() {
	if s.releasing {
		return
	}
	s.applied = true
	s.content.Apply()
	s.window.root.Attach(s.content.Root())
	s.setState(Applied)

	// Children are only ever told about a single applied parent.
	for _, id := range sortedIDs(s.children) {
		if child := s.arena().get(id); child != nil {
			child.parentApplied(s)
		}
	}
}

// Release is called by the executor for a task handed to SubmitRelease, or
// directly when the executor never managed the slot.
func (s *Slot) Release() {
	if s.State() == Released {
		panic(&ConsistencyError{Op: "double release", Window: s.window.name, Slot: s.id, Cell: s.cell})
	}
	built := s.built.Load()
	if built && !s.arena().untrack(s.id) {
		panic(&ConsistencyError{Op: "release of untracked slot", Window: s.window.name, Slot: s.id, Cell: s.cell})
	}
	s.releasing = true
	s.finishing = true
	s.setState(Released)

	defer s.detachFromParents()
	if built {
		s.content.Release()
		s.content.Root().Detach()
	}
}

// MarkForRelease hides the zone and releases it once it has no children.
func (s *Slot) MarkForRelease() {
	if s.releasing {
		return
	}
	s.releasing = true
	s.setState(ReleasePending)
	s.content.Root().SetHidden(true)

	if len(s.children) > 0 {
		// Children detach themselves on release and the last one finishes us.
		for _, id := range sortedIDs(s.children) {
			if child := s.arena().get(id); child != nil {
				child.MarkForRelease()
			}
		}
		return
	}
	s.finishRelease()
}

func (s *Slot) finishRelease() {
	if s.finishing {
		return
	}
	s.finishing = true
	if s.executor().IsManaged(s) {
		s.executor().SubmitRelease(s)
		return
	}
	s.Release()
}

func (s *Slot) detachFromParents() {
	parents := sortedIDs(s.parents)
	s.parents = nil
	delete(s.arena().slots, s.id)
	for _, id := range parents {
		if p := s.arena().get(id); p != nil {
			p.removeChild(s.id)
		}
	}
}

func (s *Slot) addParent(p *Slot) {
	if s.parents == nil {
		s.parents = map[SlotID]struct{}{}
	}
	s.parents[p.id] = struct{}{}
}

func (s *Slot) addChild(child *Slot) {
	if s.children == nil {
		s.children = map[SlotID]struct{}{}
	}
	s.children[child.id] = struct{}{}
	if s.State() == Applied {
		child.parentApplied(s)
	}
}

func (s *Slot) removeChild(id SlotID) {
	if _, ok := s.children[id]; !ok {
		return
	}
	delete(s.children, id)
	if len(s.children) == 0 {
		s.children = nil
		if s.releasing {
			s.finishRelease()
		}
	}
}

func (s *Slot) parentApplied(parent *Slot) {
	if s.releasing {
		return
	}
	s.content.SetParent(parent.content)
	s.submitBuild()
}

// resubmitChild queues a child rebuild only if this parent is applied;
// otherwise the child goes out with the next parentApplied.
func (s *Slot) resubmitChild(child *Slot) {
	if s.State() == Applied {
		child.parentApplied(s)
	}
}

func (s *Slot) submitBuild() {
	if s.releasing {
		return
	}
	s.setState(Queued)
	s.executor().SubmitBuild(s, s.Priority())
}

// rebuild forces a fresh build after a significant relocation.
func (s *Slot) rebuild() {
	if s.releasing {
		return
	}
	if s.State() == Applied {
		s.setState(Rebuilding)
	}
	if s.window.parent == nil {
		s.submitBuild()
		return
	}
	for _, id := range sortedIDs(s.parents) {
		if p := s.arena().get(id); p != nil {
			p.resubmitChild(s)
		}
	}
}

func sortedIDs(set map[SlotID]struct{}) []SlotID {
	if len(set) == 0 {
		return nil
	}
	out := make([]SlotID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
