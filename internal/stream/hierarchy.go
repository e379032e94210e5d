package stream

import (
	"errors"
	"fmt"
	"log"

	"zonepager.ai/internal/config"
	"zonepager.ai/internal/pager"
	"zonepager.ai/internal/terrain/gen"
	"zonepager.ai/internal/zones"
)

// BuildHierarchy creates the configured windows, parents first, and returns
// the root along with each window's zone kind.
func BuildHierarchy(cfg config.Config, exec pager.Executor, obs pager.Observer, logger *log.Logger) (*pager.Window, map[string]string, error) {
	opts := zones.Options{
		Params:       gen.DefaultParams(cfg.Seed),
		LODSamples:   cfg.LODSamples,
		DetailBlocks: cfg.DetailBlocks,
	}
	byName := map[string]*pager.Window{}
	kinds := map[string]string{}
	var root *pager.Window
	for _, spec := range cfg.Ordered() {
		g, err := spec.Grid()
		if err != nil {
			return nil, nil, fmt.Errorf("window %s: %w", spec.Name, err)
		}
		factory, err := zones.NewFactory(spec.Kind, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("window %s: %w", spec.Name, err)
		}
		wc := pager.WindowConfig{
			Name:         spec.Name,
			Grid:         g,
			Radius:       spec.Radius,
			Layers:       spec.Layers,
			Factory:      factory,
			PriorityBias: spec.PriorityBias,
			Logger:       logger,
		}
		if spec.Parent == "" {
			wc.Executor = exec
			wc.Observer = obs
		} else {
			wc.Parent = byName[spec.Parent]
		}
		w, err := pager.NewWindow(wc)
		if err != nil {
			return nil, nil, fmt.Errorf("window %s: %w", spec.Name, err)
		}
		if wc.Parent == nil {
			root = w
		}
		byName[spec.Name] = w
		kinds[spec.Name] = spec.Kind
	}
	if root == nil {
		return nil, nil, errors.New("stream: no root window configured")
	}
	return root, kinds, nil
}
