package pager

import (
	"fmt"
	"sync"
	"testing"

	"zonepager.ai/internal/pager/grid"
)

// manualExec is an executor the test drives by hand.
type manualExec struct {
	paused   int
	pauses   int
	managed  map[Task]bool
	queue    []Task
	built    []Task
	releases []Task
	prio     map[Task]int
}

func newManualExec() *manualExec {
	return &manualExec{managed: map[Task]bool{}, prio: map[Task]int{}}
}

func (m *manualExec) SubmitBuild(t Task, priority int) {
	m.managed[t] = true
	m.prio[t] = priority
	if indexOf(m.queue, t) < 0 && indexOf(m.built, t) < 0 {
		m.queue = append(m.queue, t)
	}
}

func (m *manualExec) SubmitRelease(t Task) {
	if !m.managed[t] {
		panic(fmt.Sprintf("release of unmanaged task %v", t))
	}
	m.queue = without(m.queue, t)
	m.built = without(m.built, t)
	if indexOf(m.releases, t) < 0 {
		m.releases = append(m.releases, t)
	}
}

func (m *manualExec) Pause()  { m.paused++; m.pauses++ }
func (m *manualExec) Resume() { m.paused-- }

func (m *manualExec) IsManaged(t Task) bool { return m.managed[t] }

func (m *manualExec) Reprioritize(t Task, priority int) { m.prio[t] = priority }

func (m *manualExec) buildAt(i int) {
	t := m.queue[i]
	m.queue = append(m.queue[:i:i], m.queue[i+1:]...)
	t.Build()
	m.built = append(m.built, t)
}

func (m *manualExec) buildAll() {
	for len(m.queue) > 0 {
		m.buildAt(0)
	}
}

func (m *manualExec) applyAt(i int) {
	t := m.built[i]
	m.built = append(m.built[:i:i], m.built[i+1:]...)
	t.Apply()
}

func (m *manualExec) applyAll() {
	for len(m.built) > 0 {
		m.applyAt(0)
	}
}

func (m *manualExec) releaseAt(i int) {
	t := m.releases[i]
	m.releases = append(m.releases[:i:i], m.releases[i+1:]...)
	delete(m.managed, t)
	t.Release()
}

func (m *manualExec) releaseAll() {
	for len(m.releases) > 0 {
		m.releaseAt(0)
	}
}

func (m *manualExec) drain() {
	for len(m.queue)+len(m.built)+len(m.releases) > 0 {
		m.buildAll()
		m.applyAll()
		m.releaseAll()
	}
}

func indexOf(ts []Task, t Task) int {
	for i, x := range ts {
		if x == t {
			return i
		}
	}
	return -1
}

func without(ts []Task, t Task) []Task {
	if i := indexOf(ts, t); i >= 0 {
		return append(ts[:i:i], ts[i+1:]...)
	}
	return ts
}

type zoneLog struct {
	mu         sync.Mutex
	events     []string
	zones      []*testZone
	violations []string
}

func (l *zoneLog) add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *zoneLog) violate(format string, args ...any) {
	l.mu.Lock()
	l.violations = append(l.violations, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

type testZone struct {
	BaseZone
	log       *zoneLog
	name      string
	dependent bool
	moves     bool

	failApply, failRelease bool

	builds, applies, releases int
	lastRel                   [3]int
	focus                     [2]float64
}

func (z *testZone) Build() {
	z.builds++
	if z.dependent {
		p, _ := z.ParentZone().(*testZone)
		if p == nil || p.applies == 0 {
			z.log.violate("%s built before its parent was applied", z.name)
		}
	}
	z.log.add("build %s", z.name)
}

func (z *testZone) Apply() {
	z.applies++
	z.log.add("apply %s", z.name)
	if z.failApply {
		panic("apply " + z.name)
	}
}

func (z *testZone) Release() {
	z.releases++
	z.log.add("release %s", z.name)
	if z.failRelease {
		panic("release " + z.name)
	}
}

// recovered runs fn and reports whether it panicked.
func recovered(fn func()) (panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	fn()
	return false
}

func (z *testZone) RelocationChanged(dx, dy, dz int) bool {
	prev := z.lastRel
	z.lastRel = [3]int{dx, dy, dz}
	return z.moves && prev != z.lastRel
}

func (z *testZone) FocusChanged(x, zz float64) { z.focus = [2]float64{x, zz} }

func testFactory(l *zoneLog, moves bool) Factory {
	return FactoryFunc(func(w *Window, c grid.Cell) Content {
		z := &testZone{
			BaseZone:  NewBaseZone("test", w.Grid(), c),
			log:       l,
			name:      w.Name() + c.String(),
			dependent: w.Parent() != nil,
			moves:     moves,
		}
		l.mu.Lock()
		l.zones = append(l.zones, z)
		l.mu.Unlock()
		return z
	})
}

// countingObserver tallies transitions per slot.
type countingObserver struct {
	mu       sync.Mutex
	created  map[SlotID]int
	released map[SlotID]int
	missing  []*MissingDependencyError
	seq      []Transition
}

func newCountingObserver() *countingObserver {
	return &countingObserver{created: map[SlotID]int{}, released: map[SlotID]int{}}
}

func (o *countingObserver) SlotTransition(tr Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq = append(o.seq, tr)
	if tr.From == Unbuilt && tr.To == Unbuilt {
		o.created[tr.Slot]++
	}
	if tr.To == Released {
		o.released[tr.Slot]++
	}
}

func (o *countingObserver) DependencyMissing(err *MissingDependencyError) {
	o.mu.Lock()
	o.missing = append(o.missing, err)
	o.mu.Unlock()
}

func (o *countingObserver) assertExactlyOnce(t *testing.T) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, n := range o.created {
		if n != 1 {
			t.Fatalf("slot %d created %d times", id, n)
		}
		if got := o.released[id]; got != 1 {
			t.Fatalf("slot %d released %d times", id, got)
		}
	}
	for id := range o.released {
		if _, ok := o.created[id]; !ok {
			t.Fatalf("slot %d released but never created", id)
		}
	}
}

func mustGrid(t *testing.T, x, y, z float64) grid.Grid {
	t.Helper()
	g, err := grid.Sized(x, y, z)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	return g
}
