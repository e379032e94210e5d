package pager

import (
	"zonepager.ai/internal/pager/grid"
	"zonepager.ai/internal/scene"
)

// Content is the payload of one zone. Build runs on an executor worker and
// may run concurrently with other zones' Build; every other method is called
// on the coordinating goroutine. None of them may call back into the window.
type Content interface {
	Build()
	Apply()
	Release()

	Priority() int
	ResetPriority(center grid.Cell, bias int)

	// RelocationChanged receives the zone's cell relative to the window
	// center after a re-center and reports whether the zone must be rebuilt.
	RelocationChanged(dx, dy, dz int) bool

	// SetParent is called once the spatial parent zone has been applied and
	// before this zone is queued for building.
	SetParent(parent Content)

	Root() *scene.Node
}

// FocusTracker is implemented by content that follows the continuous focal
// position, not only cell changes.
type FocusTracker interface {
	FocusChanged(x, z float64)
}

type Factory interface {
	Create(w *Window, cell grid.Cell) Content
}

type FactoryFunc func(w *Window, cell grid.Cell) Content

func (f FactoryFunc) Create(w *Window, cell grid.Cell) Content { return f(w, cell) }

// Task is the unit handed to an Executor. Slots implement it.
type Task interface {
	Priority() int
	Build()
	Apply()
	Release()
}

// Executor runs Build off the coordinating goroutine and calls Apply and
// Release back on it. A task is managed from its first SubmitBuild until its
// Release callback has run.
type Executor interface {
	SubmitBuild(t Task, priority int)
	SubmitRelease(t Task)
	Pause()
	Resume()
	IsManaged(t Task) bool
}

// Reprioritizer is optionally implemented by executors that can reorder
// queued work after a re-center.
type Reprioritizer interface {
	Reprioritize(t Task, priority int)
}

// Transition describes one slot lifecycle change. Queued->Built is reported
// from executor workers, everything else from the coordinating goroutine.
type Transition struct {
	Window string
	Slot   SlotID
	Cell   grid.Cell
	From   State
	To     State
}

// Observer must be safe for concurrent use.
type Observer interface {
	SlotTransition(tr Transition)
	DependencyMissing(err *MissingDependencyError)
}
