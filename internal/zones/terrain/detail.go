package terrain

import (
	"sync/atomic"

	"zonepager.ai/internal/mathx"
	"zonepager.ai/internal/pager"
	"zonepager.ai/internal/pager/grid"
	"zonepager.ai/internal/terrain/gen"
)

// Blocks is a voxel volume of Side x Height x Side blocks, x-major.
type Blocks struct {
	Side, Height int
	Data         []uint16
	Solid        int
}

func (b *Blocks) index(x, y, z int) int { return (x*b.Height+y)*b.Side + z }

func (b *Blocks) Get(x, y, z int) uint16 { return b.Data[b.index(x, y, z)] }

// DetailZone fills one fine cell with blocks. Its surface comes from the
// parent LOD zone captured when the parent was applied, or straight from
// the generator when the window has no parent.
type DetailZone struct {
	pager.BaseZone
	params gen.Params
	side   int

	// surface and built are shared with the worker running Build.
	surface atomic.Pointer[Heightfield]
	built   atomic.Pointer[Blocks]
	blocks  *Blocks
}

func NewDetailZone(g grid.Grid, cell grid.Cell, p gen.Params, side int) *DetailZone {
	if side <= 0 {
		side = 16
	}
	return &DetailZone{
		BaseZone: pager.NewBaseZone("TerrainDetail", g, cell),
		params:   p,
		side:     side,
	}
}

func (z *DetailZone) SetParent(parent pager.Content) {
	z.BaseZone.SetParent(parent)
	if lod, ok := parent.(*LODZone); ok {
		z.surface.Store(lod.Heightfield())
	}
}

func (z *DetailZone) heightAt(hf *Heightfield, x, zz float64) float64 {
	if hf != nil {
		return hf.Sample(x, zz)
	}
	return z.params.HeightAt(x, zz)
}

func (z *DetailZone) Build() {
	size := z.Grid().CellSize()
	origin := z.WorldLocation()
	block := size.X / float64(z.side)
	height := int(size.Y / block)
	if height < 1 {
		height = 1
	}
	b := &Blocks{Side: z.side, Height: height, Data: make([]uint16, z.side*height*z.side)}

	hf := z.surface.Load()
	y0 := mathx.FloorToInt(origin.Y / block)
	for x := 0; x < z.side; x++ {
		for k := 0; k < z.side; k++ {
			wx := origin.X + (float64(x)+0.5)*block
			wz := origin.Z + (float64(k)+0.5)*block
			surface := z.heightAt(hf, wx, wz) / block
			bx := mathx.FloorToInt(wx / block)
			bz := mathx.FloorToInt(wz / block)
			for y := 0; y < height; y++ {
				v := z.params.BlockAt(bx, y0+y, bz, surface)
				b.Data[b.index(x, y, k)] = v
				if v != gen.Air && v != gen.Water {
					b.Solid++
				}
			}
		}
	}
	z.built.Store(b)
}

func (z *DetailZone) Apply() {
	z.blocks = z.built.Load()
	z.Root().Payload = z.blocks
}

func (z *DetailZone) Release() {
	z.built.Store(nil)
	z.blocks = nil
	z.surface.Store(nil)
	z.Root().Payload = nil
}

// Blocks returns the applied volume, or nil.
func (z *DetailZone) Blocks() *Blocks { return z.blocks }
