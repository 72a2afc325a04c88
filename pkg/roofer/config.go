// Package roofer drives the external building reconstruction tool: it
// generates the tool's TOML configuration, builds its command lines, and
// implements the per-tile executor that stages inputs, invokes the tool and
// publishes its output.
package roofer

import (
	"github.com/pelletier/go-toml/v2"

	"github.com/borrob/3dbag-runner/pkg/grid"
)

// PointcloudEntry is one ordered point cloud input in the tool config. The
// tool decides per-building which source wins using the order, quality and
// the low-LOD flags; this code only carries them through.
type PointcloudEntry struct {
	Name    string   `toml:"name"`
	Source  []string `toml:"source"`
	Quality int      `toml:"quality"`
	Date    int      `toml:"date,omitempty"`

	// The tool expects these two keys in snake case, unlike the rest of its
	// kebab-case config surface.
	SelectOnlyForDate bool `toml:"select_only_for_date,omitempty"`
	ForceLOD11        bool `toml:"force_lod11,omitempty"`
}

// Config is the reconstruction tool's TOML configuration.
type Config struct {
	PolygonSource       string    `toml:"polygon-source"`
	IDAttribute         string    `toml:"id-attribute"`
	YocAttribute        string    `toml:"yoc-attribute"`
	ForceLOD11Attribute string    `toml:"force-lod11-attribute"`
	SRS                 string    `toml:"srs"`
	Box                 []float64 `toml:"box"`
	OutputDirectory     string    `toml:"output-directory"`
	LOD11FallbackArea   int       `toml:"lod11-fallback-area"`
	LOD11FallbackTime   int       `toml:"lod11-fallback-time"`

	Pointclouds []PointcloudEntry `toml:"pointclouds"`
}

// Attribute names of the footprint database's schema.
const (
	idAttribute         = "identificatie"
	yocAttribute        = "oorspronkelijkBouwjaar"
	forceLOD11Attribute = "force_low_lod"
)

// NewConfig assembles a tool config for one tile.
func NewConfig(footprintPath string, pointclouds []PointcloudEntry, extent grid.BBox, outputDir string) Config {
	return Config{
		PolygonSource:       footprintPath,
		IDAttribute:         idAttribute,
		YocAttribute:        yocAttribute,
		ForceLOD11Attribute: forceLOD11Attribute,
		SRS:                 "EPSG:7415",
		Box:                 []float64{extent.MinX, extent.MinY, extent.MaxX, extent.MaxY},
		OutputDirectory:     outputDir,
		LOD11FallbackArea:   30000,
		LOD11FallbackTime:   60000,
		Pointclouds:         pointclouds,
	}
}

// Marshal renders the config as TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
