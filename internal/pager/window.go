package pager

import (
	"fmt"
	"log"

	"zonepager.ai/internal/pager/grid"
	"zonepager.ai/internal/scene"
)

type WindowConfig struct {
	Name    string
	Grid    grid.Grid
	Radius  int
	Layers  int
	Factory Factory

	// PriorityBias defaults to 1 when zero.
	PriorityBias int

	// Parent makes this a dependent window sharing the parent's executor.
	Parent *Window

	// Root windows only.
	Executor Executor
	Observer Observer
	Logger   *log.Logger
}

// Window keeps a (2r+1) x layers x (2r+1) block of slots centered on the
// focal cell. It must only be used from the coordinating goroutine.
type Window struct {
	name    string
	grid    grid.Grid
	factory Factory
	radius  int
	size    int
	layers  int
	bias    int
	logger  *log.Logger
	arena   *arena
	root    *scene.Node

	cells    []*Slot
	centered bool
	xCenter  int
	zCenter  int
	xCorner  float64
	zCorner  float64
	focus    grid.Vec3
	focused  bool

	parent   *Window
	children []*Window

	missing uint64
}

func NewWindow(cfg WindowConfig) (*Window, error) {
	if !cfg.Grid.SquareXZ() {
		return nil, &ConfigurationError{Window: cfg.Name, Reason: fmt.Sprintf("paged grids must be square in the x, z plane: %v", cfg.Grid)}
	}
	size := cfg.Grid.CellSize()
	if !(size.X > 0) || !(size.Y > 0) {
		return nil, &ConfigurationError{Window: cfg.Name, Reason: "cell size must be positive", Err: grid.ErrCellSize}
	}
	if cfg.Radius < 0 {
		return nil, &ConfigurationError{Window: cfg.Name, Reason: fmt.Sprintf("negative radius %d", cfg.Radius)}
	}
	if cfg.Layers <= 0 {
		return nil, &ConfigurationError{Window: cfg.Name, Reason: fmt.Sprintf("layers must be positive, got %d", cfg.Layers)}
	}
	if cfg.Factory == nil {
		return nil, &ConfigurationError{Window: cfg.Name, Reason: "missing zone factory"}
	}
	bias := cfg.PriorityBias
	if bias == 0 {
		bias = 1
	}

	w := &Window{
		name:    cfg.Name,
		grid:    cfg.Grid,
		factory: cfg.Factory,
		radius:  cfg.Radius,
		size:    2*cfg.Radius + 1,
		layers:  cfg.Layers,
		bias:    bias,
		logger:  cfg.Logger,
		root:    scene.NewNode("GridRoot[" + cfg.Name + "]"),
		parent:  cfg.Parent,
	}
	w.cells = make([]*Slot, w.size*w.layers*w.size)

	if cfg.Parent != nil {
		w.arena = cfg.Parent.arena
		if w.logger == nil {
			w.logger = cfg.Parent.logger
		}
		cfg.Parent.AddChild(w)
		return w, nil
	}
	if cfg.Executor == nil {
		return nil, &ConfigurationError{Window: cfg.Name, Reason: "root window needs an executor"}
	}
	w.arena = newArena(cfg.Executor, cfg.Observer)
	return w, nil
}

func (w *Window) Name() string          { return w.name }
func (w *Window) Grid() grid.Grid       { return w.grid }
func (w *Window) Root() *scene.Node     { return w.root }
func (w *Window) Radius() int           { return w.radius }
func (w *Window) Layers() int           { return w.layers }
func (w *Window) Size() int             { return w.size }
func (w *Window) MaxCount() int         { return w.size * w.size * w.layers }
func (w *Window) Parent() *Window       { return w.parent }
func (w *Window) PriorityBias() int     { return w.bias }
func (w *Window) MissingDeps() uint64   { return w.missing }
func (w *Window) SetPriorityBias(b int) { w.bias = b }

func (w *Window) Children() []*Window {
	out := make([]*Window, len(w.children))
	copy(out, w.children)
	return out
}

// Center returns the current center cell; ok is false before the first
// SetCenter.
func (w *Window) Center() (x, z int, ok bool) {
	return w.xCenter, w.zCenter, w.centered
}

// Focus is the last world position handed to SetCenter.
func (w *Window) Focus() (grid.Vec3, bool) {
	return w.focus, w.focused
}

// AppliedCount counts slots in the current extent whose content is applied.
func (w *Window) AppliedCount() int {
	n := 0
	for _, s := range w.cells {
		if s != nil && s.State() == Applied {
			n++
		}
	}
	return n
}

// Slots returns the current extent in x, y, z order. Empty before the first
// SetCenter.
func (w *Window) Slots() []*Slot {
	out := make([]*Slot, 0, len(w.cells))
	for _, s := range w.cells {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Slot looks up the live slot for a world cell.
func (w *Window) Slot(c grid.Cell) *Slot {
	return w.worldCell(c)
}

// LiveSlots counts every slot of the hierarchy that has not been released.
func (w *Window) LiveSlots() int { return len(w.arena.slots) }

// InflightSlots counts built slots awaiting release.
func (w *Window) InflightSlots() int { return w.arena.inflightCount() }

// AddChild registers a dependent window. If this window already has a
// focus the child is brought to it immediately.
func (w *Window) AddChild(child *Window) {
	for _, c := range w.children {
		if c == child {
			return
		}
	}
	w.children = append(w.children, child)
	if w.focused {
		child.SetCenter(w.focus.X, w.focus.Z)
	}
}

// SetCenter moves the focal point to a world position.
func (w *Window) SetCenter(x, z float64) {
	if w.setCenterCell(w.grid.ToCellX(x), w.grid.ToCellZ(z)) {
		w.recalculateCorner()
	} else if w.parent != nil {
		// The parent may have moved over cells we could not link before.
		w.relinkOrphans()
	}
	w.focus = grid.Vec3{X: x, Z: z}
	w.focused = true
	w.root.SetTranslation(grid.Vec3{X: -(x - w.xCorner), Z: -(z - w.zCorner)})

	for _, s := range w.cells {
		if s == nil {
			continue
		}
		if ft, ok := s.content.(FocusTracker); ok {
			ft.FocusChanged(x, z)
		}
	}
	for _, c := range w.children {
		c.SetCenter(x, z)
	}
}

// Close marks every slot of this window and its children for release.
func (w *Window) Close() {
	for _, c := range w.children {
		c.Close()
	}
	for i, s := range w.cells {
		if s != nil {
			s.MarkForRelease()
			w.cells[i] = nil
		}
	}
	w.centered = false
}

func (w *Window) recalculateCorner() {
	w.xCorner = w.grid.ToWorldX(w.xCenter - w.radius)
	w.zCorner = w.grid.ToWorldZ(w.zCenter - w.radius)
}

func (w *Window) index(x, y, z int) int {
	return (x*w.layers+y)*w.size + z
}

func (w *Window) localIndex(c grid.Cell) (int, bool) {
	if !w.centered {
		return 0, false
	}
	x := c.X - (w.xCenter - w.radius)
	z := c.Z - (w.zCenter - w.radius)
	if x < 0 || z < 0 || x >= w.size || z >= w.size {
		return 0, false
	}
	if c.Y < 0 || c.Y >= w.layers {
		return 0, false
	}
	return w.index(x, c.Y, z), true
}

func (w *Window) worldCell(c grid.Cell) *Slot {
	i, ok := w.localIndex(c)
	if !ok {
		return nil
	}
	return w.cells[i]
}

func (w *Window) removeWorldCell(c grid.Cell) *Slot {
	i, ok := w.localIndex(c)
	if !ok {
		return nil
	}
	s := w.cells[i]
	w.cells[i] = nil
	return s
}

func (w *Window) newSlot(c grid.Cell) *Slot {
	s := &Slot{window: w, cell: c, content: w.factory.Create(w, c)}
	w.arena.add(s)
	s.notify(Unbuilt, Unbuilt)
	return s
}

func (w *Window) setCenterCell(xNew, zNew int) bool {
	if w.centered && w.xCenter == xNew && w.zCenter == zNew {
		return false
	}

	exec := w.arena.exec
	exec.Pause()
	defer exec.Resume()

	// Claim reusable slots from the old array into the new one, removing
	// them as we go. Whatever is left in the old array afterwards is stale.
	center := grid.Cell{X: xNew, Z: zNew}
	newCells := make([]*Slot, len(w.cells))
	for x := -w.radius; x <= w.radius; x++ {
		for z := -w.radius; z <= w.radius; z++ {
			for y := 0; y < w.layers; y++ {
				c := grid.Cell{X: xNew + x, Y: y, Z: zNew + z}
				s := w.removeWorldCell(c)
				if s != nil && s.releasing {
					// Released by a parent cascade; a fresh slot takes the cell.
					s = nil
				}
				created := s == nil
				if created {
					s = w.newSlot(c)
				}
				newCells[w.index(x+w.radius, y, z+w.radius)] = s

				local := grid.Cell{X: x + w.radius, Y: y, Z: z + w.radius}
				// The window root already carries the x, z offset through
				// its corner; it never moves in y, so y keeps it here.
				pos := w.grid.ToWorld(local)
				pos.X -= w.grid.Offset().X
				pos.Z -= w.grid.Offset().Z
				s.content.Root().SetTranslation(pos)
				s.content.ResetPriority(center, w.bias)
				moved := s.content.RelocationChanged(x, y, z)

				switch {
				case created && w.parent == nil:
					s.submitBuild()
				case created:
					w.parent.addDependency(s, w.grid)
				case w.parent != nil && len(s.parents) == 0:
					// An earlier pass could not find the parent cell.
					w.parent.addDependency(s, w.grid)
				case moved:
					s.rebuild()
				default:
					w.reprioritize(s)
				}
			}
		}
	}

	for i, s := range w.cells {
		if s != nil {
			// The slot decides when it really goes; it may have children.
			s.MarkForRelease()
			w.cells[i] = nil
		}
	}

	w.xCenter = xNew
	w.zCenter = zNew
	w.centered = true
	w.cells = newCells
	return true
}

func (w *Window) reprioritize(s *Slot) {
	r, ok := w.arena.exec.(Reprioritizer)
	if !ok || !w.arena.exec.IsManaged(s) {
		return
	}
	r.Reprioritize(s, s.Priority())
}

func (w *Window) relinkOrphans() {
	for _, s := range w.cells {
		if s == nil || s.releasing || len(s.parents) > 0 {
			continue
		}
		if p := w.parent.dependencyFor(s, w.grid); p != nil {
			s.addParent(p)
			p.addChild(s)
		}
	}
}

// dependencyFor returns the live slot of this window that contains the
// corner of a child-window slot, or nil.
func (w *Window) dependencyFor(child *Slot, childGrid grid.Grid) *Slot {
	p := w.worldCell(w.grid.ToCell(childGrid.ToWorld(child.cell)))
	if p == nil || p.releasing {
		return nil
	}
	return p
}

// addDependency links a child-window slot to the slot of this window that
// contains the child's corner. Only one parent is assumed to hit.
func (w *Window) addDependency(child *Slot, childGrid grid.Grid) {
	world := childGrid.ToWorld(child.cell)
	pc := w.grid.ToCell(world)
	p := w.dependencyFor(child, childGrid)
	if p == nil {
		child.window.missing++
		err := &MissingDependencyError{
			Window:       child.window.name,
			Cell:         child.cell,
			ParentWindow: w.name,
			ParentCell:   pc,
			World:        world,
		}
		w.printf("%v", err)
		if obs := w.arena.observer; obs != nil {
			obs.DependencyMissing(err)
		}
		return
	}
	child.addParent(p)
	p.addChild(child)
}

func (w *Window) printf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
