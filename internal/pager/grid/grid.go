// Package grid maps integer cell coordinates to world positions and back.
package grid

import (
	"errors"
	"fmt"
	"math"
)

var ErrCellSize = errors.New("grid: cell size must be positive")

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

type Cell struct {
	X, Y, Z int
}

func (c Cell) String() string {
	return fmt.Sprintf("[%d, %d, %d]", c.X, c.Y, c.Z)
}

// Grid is immutable once built.
type Grid struct {
	cellSize Vec3
	offset   Vec3
}

func New(cellSize, offset Vec3) (Grid, error) {
	if !(cellSize.X > 0) || !(cellSize.Y > 0) || !(cellSize.Z > 0) {
		return Grid{}, fmt.Errorf("%w: %v", ErrCellSize, cellSize)
	}
	return Grid{cellSize: cellSize, offset: offset}, nil
}

// Sized builds a grid with no offset.
func Sized(x, y, z float64) (Grid, error) {
	return New(Vec3{X: x, Y: y, Z: z}, Vec3{})
}

func (g Grid) CellSize() Vec3 { return g.cellSize }
func (g Grid) Offset() Vec3   { return g.offset }

// SquareXZ reports whether the footprint in the paging plane is square.
func (g Grid) SquareXZ() bool { return g.cellSize.X == g.cellSize.Z }

func (g Grid) ToWorldX(x int) float64 { return float64(x)*g.cellSize.X + g.offset.X }
func (g Grid) ToWorldY(y int) float64 { return float64(y)*g.cellSize.Y + g.offset.Y }
func (g Grid) ToWorldZ(z int) float64 { return float64(z)*g.cellSize.Z + g.offset.Z }

func (g Grid) ToWorld(c Cell) Vec3 {
	return Vec3{X: g.ToWorldX(c.X), Y: g.ToWorldY(c.Y), Z: g.ToWorldZ(c.Z)}
}

func (g Grid) ToCellX(x float64) int { return toCell(x, g.offset.X, g.cellSize.X) }
func (g Grid) ToCellY(y float64) int { return toCell(y, g.offset.Y, g.cellSize.Y) }
func (g Grid) ToCellZ(z float64) int { return toCell(z, g.offset.Z, g.cellSize.Z) }

func (g Grid) ToCell(w Vec3) Cell {
	return Cell{X: g.ToCellX(w.X), Y: g.ToCellY(w.Y), Z: g.ToCellZ(w.Z)}
}

func (g Grid) String() string {
	return fmt.Sprintf("Grid[cellSize:%v, offset:%v]", g.cellSize, g.offset)
}

// toCell floors toward negative infinity. A quotient within the rounding
// error of its own computation snaps to the nearest integer, so cell corners
// produced by ToWorld map back to the same cell. The tolerance scales with
// the magnitudes involved: a value 1e-9 below zero on a 16-unit grid is
// still cell -1.
func toCell(w, off, size float64) int {
	q := (w - off) / size
	r := math.Round(q)
	tol := 4 * epsilon * ((math.Abs(w)+math.Abs(off))/size + math.Abs(q))
	if q != r && math.Abs(q-r) <= tol {
		return int(r)
	}
	return int(math.Floor(q))
}

// epsilon is the spacing of float64 values at 1.
const epsilon = 0x1p-52
