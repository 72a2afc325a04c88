package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

func validRunOptions() RunOptions {
	return RunOptions{
		Footprints:         "file:///data/footprints.gpkg",
		Destination:        "file:///data/out",
		Year:               2023,
		TemporaryDirectory: "/tmp/staging",
		Pointclouds:        []string{"file:///data/ahn4"},
		PointcloudLabels:   []string{"AHN4"},
	}
}

// TestRunAllOptionsValidate tests validation of the gridded run options
func TestRunAllOptionsValidate(t *testing.T) {
	opts := RunAllOptions{RunOptions: validRunOptions(), GridSize: 2000, Filename: "{x}_{y}.city.json"}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate() returned error for valid options: %v", err)
	}

	// A template without both placeholders would make every tile publish to
	// the same output name.
	flatName := opts
	flatName.Filename = "output.city.json"
	if err := flatName.Validate(); err == nil {
		t.Error("Expected error for filename template without {x} and {y}, got nil")
	}
	missingY := opts
	missingY.Filename = "{x}.city.json"
	if err := missingY.Validate(); err == nil {
		t.Error("Expected error for filename template without {y}, got nil")
	}

	missing := opts
	missing.Footprints = ""
	if err := missing.Validate(); err == nil {
		t.Error("Expected error for missing footprints, got nil")
	}

	badGrid := opts
	badGrid.GridSize = -5
	err := badGrid.Validate()
	if err == nil {
		t.Fatal("Expected error for negative grid size, got nil")
	}
	if engine.CodeOf(err) != engine.ErrCodeInvalidGridSize {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeInvalidGridSize, engine.CodeOf(err))
	}

	badWorkers := opts
	badWorkers.MaxWorkers = -1
	err = badWorkers.Validate()
	if err == nil {
		t.Fatal("Expected error for negative workers, got nil")
	}
	if engine.CodeOf(err) != engine.ErrCodeInvalidConcurrency {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeInvalidConcurrency, engine.CodeOf(err))
	}

	mismatched := opts
	mismatched.PointcloudLabels = []string{"AHN4", "AHN3"}
	err = mismatched.Validate()
	if err == nil {
		t.Fatal("Expected error for mismatched labels, got nil")
	}
	if engine.CodeOf(err) != engine.ErrCodeNoSources {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeNoSources, engine.CodeOf(err))
	}
}

// TestRunSingleOptionsValidate tests extent validation
func TestRunSingleOptionsValidate(t *testing.T) {
	opts := RunSingleOptions{
		RunOptions: validRunOptions(),
		Extent:     []float64{100000, 400000, 102000, 402000},
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate() returned error for valid options: %v", err)
	}

	short := opts
	short.Extent = []float64{0, 0, 1}
	if err := short.Validate(); err == nil {
		t.Error("Expected error for 3-element extent, got nil")
	}

	degenerate := opts
	degenerate.Extent = []float64{102000, 400000, 100000, 402000}
	if err := degenerate.Validate(); err == nil {
		t.Error("Expected error for inverted extent, got nil")
	}
}

// TestLoadFile tests YAML option loading
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	raw := `
footprints: file:///data/footprints.gpkg
destination: azure://https://acct.blob.core.windows.net/tiles?sv=token
year: 2023
temporary_directory: /scratch
pointclouds:
  - file:///data/ahn4
  - file:///data/ahn3
pointclouds_labels:
  - AHN4
  - AHN3
gridsize: 2000
filename: "{x}_{y}.city.json"
max_workers: 8
job_timeout: 30m
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %v", err)
	}

	var opts RunAllOptions
	if err := LoadFile(path, &opts); err != nil {
		t.Fatalf("LoadFile() returned error: %v", err)
	}
	if opts.GridSize != 2000 || opts.MaxWorkers != 8 {
		t.Errorf("Expected gridsize 2000 and 8 workers, got %d and %d", opts.GridSize, opts.MaxWorkers)
	}
	if len(opts.Pointclouds) != 2 || opts.PointcloudLabels[1] != "AHN3" {
		t.Errorf("Expected two labelled point clouds, got %v %v", opts.Pointclouds, opts.PointcloudLabels)
	}
	if time.Duration(opts.JobTimeout) != 30*time.Minute {
		t.Errorf("Expected 30m timeout, got %s", time.Duration(opts.JobTimeout))
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("Validate() returned error for loaded options: %v", err)
	}
}

// TestLoadFileMissing tests the missing-file error
func TestLoadFileMissing(t *testing.T) {
	var opts RunAllOptions
	if err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), &opts); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}
