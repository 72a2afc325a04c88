package roofer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/borrob/3dbag-runner/pkg/engine"
	"github.com/borrob/3dbag-runner/pkg/grid"
	"github.com/borrob/3dbag-runner/pkg/lazindex"
	"github.com/borrob/3dbag-runner/pkg/pointcloud"
	"github.com/borrob/3dbag-runner/pkg/staging"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

// fakeRunner records invocations and simulates the external tools. On the
// reconstruction step it writes a jsonl file into the configured output
// directory; on the collect step it copies stdin to stdout.
type fakeRunner struct {
	specs       []CommandSpec
	configs     []Config
	failRoofer  bool
	jsonlOutput string
}

func (r *fakeRunner) Run(_ context.Context, spec CommandSpec) error {
	r.specs = append(r.specs, spec)
	switch spec.Name {
	case "roofer":
		if r.failRoofer {
			return os.ErrPermission
		}
		raw, err := os.ReadFile(spec.Args[1])
		if err != nil {
			return err
		}
		var cfg Config
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return err
		}
		r.configs = append(r.configs, cfg)
		output := r.jsonlOutput
		if output == "" {
			output = `{"type":"CityJSONFeature"}` + "\n"
		}
		return os.WriteFile(filepath.Join(cfg.OutputDirectory, "tile.jsonl"), []byte(output), 0o644)
	case "cjseq":
		_, err := io.Copy(spec.Stdout, spec.Stdin)
		return err
	default:
		return nil
	}
}

func makeLocation(t *testing.T, path string) storage.Location {
	t.Helper()
	loc, err := storage.Resolve("file://" + path)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	return loc
}

// makeSource lays out a point cloud source directory: one capture file plus
// an index entry covering the given extent.
func makeSource(t *testing.T, dir string, extent grid.BBox) {
	t.Helper()
	ctx := context.Background()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() returned error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "capture.laz"), []byte("points"), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %v", err)
	}

	index, err := lazindex.Open(ctx, filepath.Join(dir, lazindex.FileName))
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	defer index.Close()
	if err := index.Add(ctx, lazindex.Entry{Path: "capture.laz", Extent: extent, CaptureYear: 2020, Size: 6}); err != nil {
		t.Fatalf("Add() returned error: %v", err)
	}
}

func testTileJob(t *testing.T, root string, sources []pointcloud.Source) *TileJob {
	t.Helper()

	footprints := filepath.Join(root, "footprints.gpkg")
	if err := os.WriteFile(footprints, []byte("gpkg"), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %v", err)
	}

	return &TileJob{
		Extent:      grid.BBox{MinX: 100000, MinY: 400000, MaxX: 102000, MaxY: 402000},
		Footprints:  makeLocation(t, footprints),
		Sources:     sources,
		Destination: makeLocation(t, filepath.Join(root, "out")),
		OutputName:  "50_200.city.json",
		Year:        2022,
	}
}

// TestExecuteTile tests the happy path end to end on local storage
func TestExecuteTile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	extent := grid.BBox{MinX: 99000, MinY: 399000, MaxX: 103000, MaxY: 403000}
	makeSource(t, filepath.Join(root, "ahn4"), extent)
	makeSource(t, filepath.Join(root, "lowlod"), extent)

	sources, err := pointcloud.Resolve(
		[]pointcloud.Source{{Location: makeLocation(t, filepath.Join(root, "ahn4")), Label: "AHN4"}},
		[]pointcloud.Source{{Location: makeLocation(t, filepath.Join(root, "lowlod")), Label: "2022"}},
	)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	area, err := staging.NewArea(filepath.Join(root, "staging"), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}
	runner := &fakeRunner{jsonlOutput: `{"type":"CityJSONFeature"}` + "\n"}
	executor := &TileExecutor{Staging: area, Runner: runner}

	job := testTileJob(t, root, sources)
	if err := executor.ExecuteTile(ctx, job); err != nil {
		t.Fatalf("ExecuteTile() returned error: %v", err)
	}

	// Output published under the destination.
	published := filepath.Join(root, "out", "50_200.city.json")
	data, err := os.ReadFile(published)
	if err != nil {
		t.Fatalf("Expected published output, got error: %v", err)
	}
	if string(data) != runner.jsonlOutput {
		t.Errorf("Expected collected output published, got %q", data)
	}

	// Generated config lists the primary source first, the low-LOD source
	// with its date flags, and quality by position.
	if len(runner.configs) != 1 {
		t.Fatalf("Expected 1 reconstruction, got %d", len(runner.configs))
	}
	clouds := runner.configs[0].Pointclouds
	if len(clouds) != 2 {
		t.Fatalf("Expected 2 point cloud entries, got %d", len(clouds))
	}
	if clouds[0].Name != "AHN4" || clouds[0].Quality != 0 {
		t.Errorf("Expected primary AHN4 with quality 0, got %+v", clouds[0])
	}
	if clouds[0].ForceLOD11 || clouds[0].SelectOnlyForDate || clouds[0].Date != 0 {
		t.Errorf("Expected no low-LOD flags on primary, got %+v", clouds[0])
	}
	if clouds[1].Name != "2022" || clouds[1].Quality != 1 {
		t.Errorf("Expected fallback 2022 with quality 1, got %+v", clouds[1])
	}
	if !clouds[1].ForceLOD11 || !clouds[1].SelectOnlyForDate || clouds[1].Date != 2022 {
		t.Errorf("Expected low-LOD flags with date 2022, got %+v", clouds[1])
	}

	// Staging fully cleaned up.
	leftover, err := os.ReadDir(filepath.Join(root, "staging"))
	if err != nil {
		t.Fatalf("ReadDir() returned error: %v", err)
	}
	if len(leftover) != 0 {
		t.Errorf("Expected staging cleaned, found %d entries", len(leftover))
	}
}

// TestExecuteTileToolFailure tests that a reconstruction tool failure is
// classified and staging is still cleaned
func TestExecuteTileToolFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	extent := grid.BBox{MinX: 99000, MinY: 399000, MaxX: 103000, MaxY: 403000}
	makeSource(t, filepath.Join(root, "ahn4"), extent)
	sources, err := pointcloud.Resolve(
		[]pointcloud.Source{{Location: makeLocation(t, filepath.Join(root, "ahn4")), Label: "AHN4"}}, nil)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	area, err := staging.NewArea(filepath.Join(root, "staging"), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}
	executor := &TileExecutor{Staging: area, Runner: &fakeRunner{failRoofer: true}}

	err = executor.ExecuteTile(ctx, testTileJob(t, root, sources))
	if err == nil {
		t.Fatal("Expected error from failing tool, got nil")
	}
	if engine.CodeOf(err) != engine.ErrCodeReconstruction {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeReconstruction, engine.CodeOf(err))
	}

	leftover, readErr := os.ReadDir(filepath.Join(root, "staging"))
	if readErr != nil {
		t.Fatalf("ReadDir() returned error: %v", readErr)
	}
	if len(leftover) != 0 {
		t.Errorf("Expected staging cleaned after failure, found %d entries", len(leftover))
	}
}

// TestExecuteTilePrimarySourceFailure tests that a broken primary source
// fails the tile
func TestExecuteTilePrimarySourceFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// The primary source directory exists but has no index.
	if err := os.MkdirAll(filepath.Join(root, "ahn4"), 0o755); err != nil {
		t.Fatalf("MkdirAll() returned error: %v", err)
	}
	sources, err := pointcloud.Resolve(
		[]pointcloud.Source{{Location: makeLocation(t, filepath.Join(root, "ahn4")), Label: "AHN4"}}, nil)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	area, err := staging.NewArea(filepath.Join(root, "staging"), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}
	executor := &TileExecutor{Staging: area, Runner: &fakeRunner{}}

	err = executor.ExecuteTile(ctx, testTileJob(t, root, sources))
	if err == nil {
		t.Fatal("Expected error for broken primary source, got nil")
	}
	if engine.CodeOf(err) != engine.ErrCodeFetchFailed {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeFetchFailed, engine.CodeOf(err))
	}
}

// TestExecuteTileDropsBrokenFallback tests that a broken fallback source is
// dropped while the tile still succeeds
func TestExecuteTileDropsBrokenFallback(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	extent := grid.BBox{MinX: 99000, MinY: 399000, MaxX: 103000, MaxY: 403000}
	makeSource(t, filepath.Join(root, "ahn4"), extent)
	// The fallback source has no index.
	if err := os.MkdirAll(filepath.Join(root, "ahn3"), 0o755); err != nil {
		t.Fatalf("MkdirAll() returned error: %v", err)
	}

	sources, err := pointcloud.Resolve([]pointcloud.Source{
		{Location: makeLocation(t, filepath.Join(root, "ahn4")), Label: "AHN4"},
		{Location: makeLocation(t, filepath.Join(root, "ahn3")), Label: "AHN3"},
	}, nil)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	area, err := staging.NewArea(filepath.Join(root, "staging"), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}
	runner := &fakeRunner{}
	executor := &TileExecutor{Staging: area, Runner: runner}

	if err := executor.ExecuteTile(ctx, testTileJob(t, root, sources)); err != nil {
		t.Fatalf("ExecuteTile() returned error: %v", err)
	}

	if len(runner.configs) != 1 {
		t.Fatalf("Expected 1 reconstruction, got %d", len(runner.configs))
	}
	clouds := runner.configs[0].Pointclouds
	if len(clouds) != 1 || clouds[0].Name != "AHN4" {
		t.Errorf("Expected only AHN4 after dropping broken fallback, got %+v", clouds)
	}
}

// TestExecuteTileNoIntersectingCaptures tests the empty-coverage failure
func TestExecuteTileNoIntersectingCaptures(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// The capture's extent is far away from the tile.
	makeSource(t, filepath.Join(root, "ahn4"), grid.BBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10})
	sources, err := pointcloud.Resolve(
		[]pointcloud.Source{{Location: makeLocation(t, filepath.Join(root, "ahn4")), Label: "AHN4"}}, nil)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	area, err := staging.NewArea(filepath.Join(root, "staging"), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}
	executor := &TileExecutor{Staging: area, Runner: &fakeRunner{}}

	err = executor.ExecuteTile(ctx, testTileJob(t, root, sources))
	if err == nil {
		t.Fatal("Expected error for empty coverage, got nil")
	}
	if engine.CodeOf(err) != engine.ErrCodeFetchFailed {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeFetchFailed, engine.CodeOf(err))
	}
}
