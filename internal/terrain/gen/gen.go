// Package gen derives deterministic terrain from a seed: heights by value
// noise, biomes by region, and block types by cluster rolls.
package gen

import (
	"math"

	"zonepager.ai/internal/mathx"
)

const (
	Air uint16 = iota
	Dirt
	Grass
	Sand
	Stone
	Gravel
	Log
	CoalOre
	IronOre
	Water
)

type Params struct {
	Seed            int64
	BiomeRegionSize int
	SeaLevel        float64
	BaseHeight      float64
	Amplitude       float64
	Wavelength      float64
	Octaves         int

	OreClusterProbScalePermille int
}

func DefaultParams(seed int64) Params {
	return Params{
		Seed:            seed,
		BiomeRegionSize: 256,
		SeaLevel:        12,
		BaseHeight:      16,
		Amplitude:       24,
		Wavelength:      128,
		Octaves:         4,

		OreClusterProbScalePermille: 1000,
	}
}

func BiomeFrom(noise uint64) string {
	switch noise % 3 {
	case 0:
		return "PLAINS"
	case 1:
		return "FOREST"
	default:
		return "DESERT"
	}
}

func BiomeAt(seed int64, x, z, regionSize int) string {
	if regionSize <= 0 {
		regionSize = 1
	}
	rx := mathx.FloorDiv(x, regionSize)
	rz := mathx.FloorDiv(z, regionSize)
	return BiomeFrom(mathx.Hash2(seed, rx, rz))
}

// HeightAt sums Octaves layers of value noise. The result lies in
// [BaseHeight-Amplitude, BaseHeight+Amplitude].
func (p Params) HeightAt(x, z float64) float64 {
	octaves := p.Octaves
	if octaves <= 0 {
		octaves = 1
	}
	wl := p.Wavelength
	if wl <= 0 {
		wl = 1
	}
	sum, norm, amp := 0.0, 0.0, 1.0
	for o := 0; o < octaves; o++ {
		sum += amp * valueNoise(p.Seed+int64(o)*7919, x/wl, z/wl)
		norm += amp
		amp *= 0.5
		wl *= 0.5
	}
	return p.BaseHeight + p.Amplitude*(2*sum/norm-1)
}

// valueNoise interpolates lattice hashes with a smoothstep; range [0, 1).
func valueNoise(seed int64, x, z float64) float64 {
	x0, z0 := math.Floor(x), math.Floor(z)
	ix, iz := int(x0), int(z0)
	fx, fz := smooth(x-x0), smooth(z-z0)

	v00 := mathx.Unit(mathx.Hash2(seed, ix, iz))
	v10 := mathx.Unit(mathx.Hash2(seed, ix+1, iz))
	v01 := mathx.Unit(mathx.Hash2(seed, ix, iz+1))
	v11 := mathx.Unit(mathx.Hash2(seed, ix+1, iz+1))

	a := v00 + (v10-v00)*fx
	b := v01 + (v11-v01)*fx
	return a + (b-a)*fz
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }

// BlockAt picks the block at integer world coordinates given the surface
// height of its column.
func (p Params) BlockAt(x, y, z int, surface float64) uint16 {
	top := mathx.FloorToInt(surface)
	if y > top {
		if float64(y) <= p.SeaLevel {
			return Water
		}
		return Air
	}
	biome := BiomeAt(p.Seed, x, z, p.BiomeRegionSize)
	if y == top {
		switch biome {
		case "DESERT":
			return Sand
		case "FOREST":
			if mathx.Hash2(p.Seed+201, x, z)%1000 < 40 {
				return Log
			}
			return Grass
		default:
			if float64(y) <= p.SeaLevel {
				return Sand
			}
			return Grass
		}
	}
	if y > top-3 {
		if biome == "DESERT" {
			return Sand
		}
		return Dirt
	}
	switch {
	case InCluster(p.Seed+102, x, z, 128, 3, ScalePermille(450, p.OreClusterProbScalePermille)) && mathx.Hash3(p.Seed+102, x, y, z)%4 == 0:
		return IronOre
	case InCluster(p.Seed+104, x, z, 64, 4, ScalePermille(650, p.OreClusterProbScalePermille)) && mathx.Hash3(p.Seed+104, x, y, z)%3 == 0:
		return CoalOre
	case mathx.Hash3(p.Seed+999, x, y, z)%1000 < 30:
		return Gravel
	}
	return Stone
}

func ClampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}

func ScalePermille(base uint64, scalePermille int) uint64 {
	if scalePermille <= 0 {
		scalePermille = 1000
	}
	scaled := (base*uint64(scalePermille) + 500) / 1000
	if scaled > 1000 {
		return 1000
	}
	return scaled
}

func InCluster(seed int64, x, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := mathx.FloorDiv(x, grid)
	gz := mathx.FloorDiv(z, grid)
	r2 := radius * radius

	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgz := gz + dz
			h := mathx.Hash2(seed, cgx, cgz)
			if h%1000 >= probPermille {
				continue
			}

			ox := int((h >> 10) % uint64(grid))
			oz := int((h >> 20) % uint64(grid))
			cx := cgx*grid + ox
			cz := cgz*grid + oz

			ddx := x - cx
			ddz := z - cz
			if ddx*ddx+ddz*ddz <= r2 {
				return true
			}
		}
	}
	return false
}
