// Package zones maps configured zone kinds to factories.
package zones

import (
	"fmt"
	"sort"

	"zonepager.ai/internal/pager"
	"zonepager.ai/internal/pager/grid"
	"zonepager.ai/internal/terrain/gen"
	"zonepager.ai/internal/zones/bbox"
	"zonepager.ai/internal/zones/terrain"
)

const (
	KindBBox          = "bbox"
	KindTerrainLOD    = "terrain_lod"
	KindTerrainDetail = "terrain_detail"
)

type Options struct {
	Params gen.Params

	// LODSamples is the sample count per side of a full-detail LOD zone.
	LODSamples int
	// DetailBlocks is the block count per side of a detail zone.
	DetailBlocks int
}

func Kinds() []string {
	out := []string{KindBBox, KindTerrainLOD, KindTerrainDetail}
	sort.Strings(out)
	return out
}

func NewFactory(kind string, opts Options) (pager.Factory, error) {
	switch kind {
	case KindBBox:
		return bbox.NewFactory(), nil
	case KindTerrainLOD:
		return pager.FactoryFunc(func(w *pager.Window, c grid.Cell) pager.Content {
			return terrain.NewLODZone(w.Grid(), c, opts.Params, opts.LODSamples)
		}), nil
	case KindTerrainDetail:
		return pager.FactoryFunc(func(w *pager.Window, c grid.Cell) pager.Content {
			return terrain.NewDetailZone(w.Grid(), c, opts.Params, opts.DetailBlocks)
		}), nil
	default:
		return nil, fmt.Errorf("unknown zone kind %q (known: %v)", kind, Kinds())
	}
}
