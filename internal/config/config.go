// Package config loads pager.yaml.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"zonepager.ai/internal/pager/grid"
	"zonepager.ai/internal/zones"
)

//go:embed schema.json
var schemaJSON string

type Config struct {
	Seed         int64 `yaml:"seed"`
	Workers      int   `yaml:"workers"`
	UpdateRateHz int   `yaml:"update_rate_hz"`
	StatsEveryMs int   `yaml:"stats_every_ms"`
	PriorityBias int   `yaml:"priority_bias"`
	LODSamples   int   `yaml:"lod_samples"`
	DetailBlocks int   `yaml:"detail_blocks"`

	Windows    []WindowSpec   `yaml:"windows"`
	Trace      TraceSpec      `yaml:"trace"`
	Observer   ObserverSpec   `yaml:"observer"`
	Flythrough FlythroughSpec `yaml:"flythrough"`
}

type WindowSpec struct {
	Name         string    `yaml:"name"`
	Kind         string    `yaml:"kind"`
	Parent       string    `yaml:"parent,omitempty"`
	CellSize     []float64 `yaml:"cell_size"`
	Offset       []float64 `yaml:"offset,omitempty"`
	Radius       int       `yaml:"radius"`
	Layers       int       `yaml:"layers"`
	PriorityBias int       `yaml:"priority_bias,omitempty"`
}

type TraceSpec struct {
	Dir        string     `yaml:"dir"`
	SQLitePath string     `yaml:"sqlite_path"`
	Mirror     MirrorSpec `yaml:"mirror"`
}

// MirrorSpec enables uploads of finished trace files when Endpoint is set.
// Credentials come from the environment, never from the file.
type MirrorSpec struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Workers  int    `yaml:"workers"`
}

func (m MirrorSpec) Enabled() bool { return strings.TrimSpace(m.Endpoint) != "" }

type ObserverSpec struct {
	Addr        string `yaml:"addr"`
	AllowRemote bool   `yaml:"allow_remote"`
}

type FlythroughSpec struct {
	Start         []float64 `yaml:"start"`
	Speed         float64   `yaml:"speed"`
	TurnDegPerSec float64   `yaml:"turn_deg_per_sec"`
	DurationSec   float64   `yaml:"duration_sec"`
}

func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := defaults()
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return defaults(), err
	}
	return Parse(b)
}

// Parse checks raw YAML against the schema, then decodes it over the
// defaults. An explicit windows list replaces the default one.
func Parse(b []byte) (Config, error) {
	cfg := defaults()
	if err := validateSchema(b); err != nil {
		return cfg, fmt.Errorf("pager.yaml: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("pager.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("pager.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Seed:         1337,
		Workers:      4,
		UpdateRateHz: 30,
		StatsEveryMs: 1000,
		PriorityBias: 1,
		LODSamples:   33,
		DetailBlocks: 16,
		Windows: []WindowSpec{
			{Name: "lod", Kind: zones.KindTerrainLOD, CellSize: []float64{256, 256, 256}, Radius: 3, Layers: 1},
			{Name: "detail", Kind: zones.KindTerrainDetail, Parent: "lod", CellSize: []float64{32, 32, 32}, Radius: 4, Layers: 2},
		},
		Observer: ObserverSpec{Addr: "127.0.0.1:8091"},
		Flythrough: FlythroughSpec{
			Start:         []float64{0, 0},
			Speed:         24,
			TurnDegPerSec: 6,
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.UpdateRateHz <= 0 {
		c.UpdateRateHz = 30
	}
	if c.StatsEveryMs <= 0 {
		c.StatsEveryMs = 1000
	}
	if c.PriorityBias <= 0 {
		c.PriorityBias = 1
	}
	for i := range c.Windows {
		w := &c.Windows[i]
		w.Name = strings.TrimSpace(w.Name)
		w.Parent = strings.TrimSpace(w.Parent)
		w.Kind = strings.ToLower(strings.TrimSpace(w.Kind))
		if w.Layers == 0 {
			w.Layers = 1
		}
		if w.PriorityBias <= 0 {
			w.PriorityBias = c.PriorityBias
		}
		if len(w.Offset) == 0 {
			w.Offset = []float64{0, 0, 0}
		}
	}
	if len(c.Flythrough.Start) != 2 {
		c.Flythrough.Start = []float64{0, 0}
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if len(c.Windows) == 0 {
		return fmt.Errorf("windows must not be empty")
	}
	known := map[string]bool{}
	for _, k := range zones.Kinds() {
		known[k] = true
	}
	byName := map[string]WindowSpec{}
	roots := 0
	for _, w := range c.Windows {
		if w.Name == "" {
			return fmt.Errorf("window name must not be empty")
		}
		if _, dup := byName[w.Name]; dup {
			return fmt.Errorf("duplicate window name: %s", w.Name)
		}
		byName[w.Name] = w
		if !known[w.Kind] {
			return fmt.Errorf("window %s kind %q unknown (known: %v)", w.Name, w.Kind, zones.Kinds())
		}
		if _, err := w.Grid(); err != nil {
			return fmt.Errorf("window %s: %w", w.Name, err)
		}
		if w.Radius < 0 {
			return fmt.Errorf("window %s radius must be >= 0", w.Name)
		}
		if w.Layers <= 0 {
			return fmt.Errorf("window %s layers must be > 0", w.Name)
		}
		if w.Parent == "" {
			roots++
		}
	}
	if c.Trace.Mirror.Enabled() {
		if c.Trace.Dir == "" {
			return fmt.Errorf("trace.mirror requires trace.dir")
		}
		if strings.TrimSpace(c.Trace.Mirror.Bucket) == "" {
			return fmt.Errorf("trace.mirror.bucket must not be empty")
		}
	}
	if roots != 1 {
		return fmt.Errorf("exactly one root window required, got %d", roots)
	}
	for _, w := range c.Windows {
		if w.Parent == "" {
			continue
		}
		if _, ok := byName[w.Parent]; !ok {
			return fmt.Errorf("window %s parent %q not found", w.Name, w.Parent)
		}
		seen := map[string]bool{w.Name: true}
		for p := w.Parent; p != ""; p = byName[p].Parent {
			if seen[p] {
				return fmt.Errorf("window %s: parent cycle through %s", w.Name, p)
			}
			seen[p] = true
		}
	}
	return nil
}

// Grid builds the window's coordinate grid, rejecting cells that are not
// square in x, z.
func (w WindowSpec) Grid() (grid.Grid, error) {
	if len(w.CellSize) != 3 {
		return grid.Grid{}, fmt.Errorf("cell_size needs 3 components, got %d", len(w.CellSize))
	}
	off := grid.Vec3{}
	if len(w.Offset) == 3 {
		off = grid.Vec3{X: w.Offset[0], Y: w.Offset[1], Z: w.Offset[2]}
	}
	g, err := grid.New(grid.Vec3{X: w.CellSize[0], Y: w.CellSize[1], Z: w.CellSize[2]}, off)
	if err != nil {
		return grid.Grid{}, err
	}
	if !g.SquareXZ() {
		return grid.Grid{}, fmt.Errorf("cell_size must be square in x, z: %v", w.CellSize)
	}
	return g, nil
}

// Ordered returns the windows with every parent before its children.
func (c Config) Ordered() []WindowSpec {
	out := make([]WindowSpec, 0, len(c.Windows))
	placed := map[string]bool{}
	for len(out) < len(c.Windows) {
		progress := false
		for _, w := range c.Windows {
			if placed[w.Name] || (w.Parent != "" && !placed[w.Parent]) {
				continue
			}
			out = append(out, w)
			placed[w.Name] = true
			progress = true
		}
		if !progress {
			break
		}
	}
	return out
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s, err := jsonschema.CompileString("pager.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return s.Validate(v)
}
