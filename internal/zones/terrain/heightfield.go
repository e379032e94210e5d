package terrain

import (
	"zonepager.ai/internal/mathx"
	"zonepager.ai/internal/terrain/gen"
)

// Heightfield is an N x N grid of surface heights starting at (X0, Z0) with
// Step world units between samples. Immutable once built.
type Heightfield struct {
	X0, Z0 float64
	Step   float64
	N      int
	H      []float64
}

func buildHeightfield(p gen.Params, x0, z0, extent float64, n int) *Heightfield {
	if n < 2 {
		n = 2
	}
	hf := &Heightfield{X0: x0, Z0: z0, Step: extent / float64(n-1), N: n, H: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			hf.H[i*n+k] = p.HeightAt(x0+float64(i)*hf.Step, z0+float64(k)*hf.Step)
		}
	}
	return hf
}

func (hf *Heightfield) at(i, k int) float64 {
	i = clamp(i, 0, hf.N-1)
	k = clamp(k, 0, hf.N-1)
	return hf.H[i*hf.N+k]
}

// Sample interpolates bilinearly; positions outside clamp to the edge.
func (hf *Heightfield) Sample(x, z float64) float64 {
	fx := (x - hf.X0) / hf.Step
	fz := (z - hf.Z0) / hf.Step
	i, k := mathx.FloorToInt(fx), mathx.FloorToInt(fz)
	tx, tz := fx-float64(i), fz-float64(k)
	if i < 0 {
		tx = 0
	} else if i >= hf.N-1 {
		tx = 0
		i = hf.N - 1
	}
	if k < 0 {
		tz = 0
	} else if k >= hf.N-1 {
		tz = 0
		k = hf.N - 1
	}
	a := hf.at(i, k) + (hf.at(i+1, k)-hf.at(i, k))*tx
	b := hf.at(i, k+1) + (hf.at(i+1, k+1)-hf.at(i, k+1))*tx
	return a + (b-a)*tz
}

func (hf *Heightfield) MinMax() (lo, hi float64) {
	lo, hi = hf.H[0], hf.H[0]
	for _, h := range hf.H[1:] {
		if h < lo {
			lo = h
		}
		if h > hi {
			hi = h
		}
	}
	return lo, hi
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
