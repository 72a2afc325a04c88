// Package config holds the option structs for the batch commands. Options
// come from flags, optionally pre-filled from a YAML file, and are validated
// before any job starts so configuration mistakes fail the run up front.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

var validate = validator.New()

// Duration is a time.Duration that parses YAML values like "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// RunOptions are the options shared by the all-tiles and single-tile runs.
type RunOptions struct {
	// Footprints is the URI of the footprint geopackage.
	Footprints string `yaml:"footprints" validate:"required"`

	// Destination is the URI prefix outputs are published under.
	Destination string `yaml:"destination" validate:"required"`

	// Year is the reconstruction year, stamped on low-LOD sources.
	Year int `yaml:"year" validate:"required"`

	// TemporaryDirectory roots the staging area.
	TemporaryDirectory string `yaml:"temporary_directory" validate:"required"`

	// Pointclouds are full-resolution source URIs in fallback priority
	// order, with one label each.
	Pointclouds      []string `yaml:"pointclouds" validate:"required,min=1"`
	PointcloudLabels []string `yaml:"pointclouds_labels" validate:"required,min=1"`

	// LowLODPointclouds are coarse fallback source URIs with their labels.
	LowLODPointclouds []string `yaml:"pointclouds_low_lod"`
	LowLODLabels      []string `yaml:"pointclouds_low_lod_labels"`

	// JobTimeout bounds one tile's execution. Zero disables the bound.
	JobTimeout Duration `yaml:"job_timeout"`

	// Report is an optional path for the run-report database.
	Report string `yaml:"report"`

	// MetricsAddr optionally exposes Prometheus metrics during the run.
	MetricsAddr string `yaml:"metrics_addr"`
}

// RunAllOptions configures a gridded run over a whole footprint database.
type RunAllOptions struct {
	RunOptions `yaml:",inline"`

	// GridSize is the tile edge length in CRS units.
	GridSize int `yaml:"gridsize" validate:"required"`

	// Filename names output tiles; {x} and {y} are substituted from the
	// grid cell.
	Filename string `yaml:"filename"`

	// MaxWorkers bounds tile concurrency. Zero means one worker per CPU.
	MaxWorkers int `yaml:"max_workers"`
}

// RunSingleOptions configures a run of one explicit extent.
type RunSingleOptions struct {
	RunOptions `yaml:",inline"`

	// Extent is minX, minY, maxX, maxY.
	Extent []float64 `yaml:"extent" validate:"required,len=4"`
}

// LoadFile pre-fills options from a YAML file.
func LoadFile(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (o *RunOptions) validateCommon() error {
	if len(o.Pointclouds) != len(o.PointcloudLabels) {
		return engine.NewPermanentError(
			fmt.Sprintf("got %d point clouds but %d labels", len(o.Pointclouds), len(o.PointcloudLabels)), nil).
			WithCode(engine.ErrCodeNoSources)
	}
	if len(o.LowLODPointclouds) != len(o.LowLODLabels) {
		return engine.NewPermanentError(
			fmt.Sprintf("got %d low-LOD point clouds but %d labels", len(o.LowLODPointclouds), len(o.LowLODLabels)), nil).
			WithCode(engine.ErrCodeNoSources)
	}
	return nil
}

// Validate checks a gridded run's options before dispatch.
func (o *RunAllOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return engine.NewPermanentError("invalid run options", err)
	}
	if o.GridSize <= 0 {
		return engine.NewPermanentError("grid size must be positive", nil).
			WithCode(engine.ErrCodeInvalidGridSize)
	}
	if o.MaxWorkers < 0 {
		return engine.NewPermanentError("max workers must not be negative", nil).
			WithCode(engine.ErrCodeInvalidConcurrency)
	}
	if !strings.Contains(o.Filename, "{x}") || !strings.Contains(o.Filename, "{y}") {
		return engine.NewPermanentError("filename template must contain both {x} and {y}", nil).
			WithCode(engine.ErrCodeInvalidLocation)
	}
	return o.validateCommon()
}

// Validate checks a single-tile run's options before dispatch.
func (o *RunSingleOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return engine.NewPermanentError("invalid run options", err)
	}
	if o.Extent[0] >= o.Extent[2] || o.Extent[1] >= o.Extent[3] {
		return engine.NewPermanentError("extent has no area", nil).
			WithCode(engine.ErrCodeInvalidGridSize)
	}
	return o.validateCommon()
}
