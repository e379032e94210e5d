// Package bbox is a debug zone kind that outlines each cell with a box.
package bbox

import (
	"math"

	"zonepager.ai/internal/pager"
	"zonepager.ai/internal/pager/grid"
)

// ChildScale keeps a child box visibly inside its parent's box.
const ChildScale = 0.99

type Box struct {
	Min, Max grid.Vec3
}

func (b Box) Center() grid.Vec3 {
	return grid.Vec3{X: (b.Min.X + b.Max.X) / 2, Y: (b.Min.Y + b.Max.Y) / 2, Z: (b.Min.Z + b.Max.Z) / 2}
}

func (b Box) Size() grid.Vec3 { return b.Max.Sub(b.Min) }

type Zone struct {
	pager.BaseZone
	scale float64

	built   Box
	box     Box
	focusXZ float64
}

func New(g grid.Grid, cell grid.Cell) *Zone {
	return &Zone{BaseZone: pager.NewBaseZone("BBox", g, cell), scale: 1}
}

func NewFactory() pager.Factory {
	return pager.FactoryFunc(func(w *pager.Window, cell grid.Cell) pager.Content {
		return New(w.Grid(), cell)
	})
}

func (z *Zone) SetParent(parent pager.Content) {
	z.BaseZone.SetParent(parent)
	if z.scale != ChildScale {
		z.scale = ChildScale
	}
}

func (z *Zone) Scale() float64 { return z.scale }

// Build computes the box in zone-local space, shrunk about its center.
func (z *Zone) Build() {
	size := z.Grid().CellSize()
	half := grid.Vec3{X: size.X / 2, Y: size.Y / 2, Z: size.Z / 2}
	ext := grid.Vec3{X: half.X * z.scale, Y: half.Y * z.scale, Z: half.Z * z.scale}
	z.built = Box{Min: half.Sub(ext), Max: half.Add(ext)}
}

func (z *Zone) Apply() {
	z.box = z.built
	z.Root().Payload = z.box
}

func (z *Zone) Release() {
	z.box = Box{}
	z.Root().Payload = nil
}

func (z *Zone) Box() Box { return z.box }

// FocusChanged tracks the horizontal distance from the focus to the box.
func (z *Zone) FocusChanged(x, zz float64) {
	c := z.WorldLocation()
	size := z.Grid().CellSize()
	dx := math.Max(0, math.Max(c.X-x, x-(c.X+size.X)))
	dz := math.Max(0, math.Max(c.Z-zz, zz-(c.Z+size.Z)))
	z.focusXZ = math.Hypot(dx, dz)
}

func (z *Zone) FocusDistance() float64 { return z.focusXZ }
