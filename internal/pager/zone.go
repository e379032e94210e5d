package pager

import (
	"fmt"

	"zonepager.ai/internal/mathx"
	"zonepager.ai/internal/pager/grid"
	"zonepager.ai/internal/scene"
)

// BaseZone carries the parts every zone kind shares. Embed it and add
// Build, Apply and Release.
type BaseZone struct {
	grid     grid.Grid
	cell     grid.Cell
	root     *scene.Node
	priority int
	parent   Content
}

func NewBaseZone(kind string, g grid.Grid, cell grid.Cell) BaseZone {
	return BaseZone{
		grid: g,
		cell: cell,
		root: scene.NewNode(fmt.Sprintf("%s[%d, %d, %d]", kind, cell.X, cell.Y, cell.Z)),
	}
}

func (z *BaseZone) Grid() grid.Grid          { return z.grid }
func (z *BaseZone) Cell() grid.Cell          { return z.cell }
func (z *BaseZone) Root() *scene.Node        { return z.root }
func (z *BaseZone) Priority() int            { return z.priority }
func (z *BaseZone) WorldLocation() grid.Vec3 { return z.grid.ToWorld(z.cell) }

// ResetPriority weights horizontal distance only; layers are not distance
// weighted.
func (z *BaseZone) ResetPriority(center grid.Cell, bias int) {
	z.priority = DistancePriority(z.cell, center, bias)
}

func (z *BaseZone) SetParent(parent Content) { z.parent = parent }
func (z *BaseZone) ParentZone() Content      { return z.parent }

func (z *BaseZone) RelocationChanged(dx, dy, dz int) bool { return false }

func (z *BaseZone) String() string {
	return z.root.Name
}

// DistancePriority is bias * floor(sqrt(dx² + dz²)).
func DistancePriority(cell, center grid.Cell, bias int) int {
	dx := cell.X - center.X
	dz := cell.Z - center.Z
	return bias * mathx.ISqrt(dx*dx+dz*dz)
}
