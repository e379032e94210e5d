// Package terrain provides two zone kinds: coarse height LOD zones and
// block detail zones that derive their surface from the LOD zone above.
package terrain

import (
	"sync/atomic"

	"zonepager.ai/internal/mathx"
	"zonepager.ai/internal/pager"
	"zonepager.ai/internal/pager/grid"
	"zonepager.ai/internal/terrain/gen"
)

// LODZone samples the surface of one coarse cell. Zones further from the
// window center use fewer samples; a change of level forces a rebuild.
type LODZone struct {
	pager.BaseZone
	params  gen.Params
	samples int
	level   int

	pending atomic.Pointer[Heightfield]
	applied atomic.Pointer[Heightfield]
	target  atomic.Int32
}

func NewLODZone(g grid.Grid, cell grid.Cell, p gen.Params, samples int) *LODZone {
	if samples < 2 {
		samples = 2
	}
	z := &LODZone{
		BaseZone: pager.NewBaseZone("TerrainLOD", g, cell),
		params:   p,
		samples:  samples,
	}
	z.target.Store(int32(samples))
	return z
}

// LevelFor halves the sample count for each ring beyond the first.
func LevelFor(dx, dz int) int {
	d := mathx.AbsInt(dx)
	if a := mathx.AbsInt(dz); a > d {
		d = a
	}
	if d <= 1 {
		return 0
	}
	return d - 1
}

func (z *LODZone) Level() int { return z.level }

func (z *LODZone) RelocationChanged(dx, dy, dz int) bool {
	lvl := LevelFor(dx, dz)
	if lvl == z.level {
		return false
	}
	z.level = lvl
	n := z.samples >> lvl
	if n < 2 {
		n = 2
	}
	return z.target.Swap(int32(n)) != int32(n)
}

func (z *LODZone) Build() {
	origin := z.WorldLocation()
	extent := z.Grid().CellSize().X
	z.pending.Store(buildHeightfield(z.params, origin.X, origin.Z, extent, int(z.target.Load())))
}

func (z *LODZone) Apply() {
	if hf := z.pending.Swap(nil); hf != nil {
		z.applied.Store(hf)
		z.Root().Payload = hf
	}
}

func (z *LODZone) Release() {
	z.pending.Store(nil)
	z.applied.Store(nil)
	z.Root().Payload = nil
}

// Heightfield returns the last applied surface, or nil.
func (z *LODZone) Heightfield() *Heightfield { return z.applied.Load() }
