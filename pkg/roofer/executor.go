package roofer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/borrob/3dbag-runner/pkg/engine"
	"github.com/borrob/3dbag-runner/pkg/grid"
	"github.com/borrob/3dbag-runner/pkg/lazindex"
	"github.com/borrob/3dbag-runner/pkg/pointcloud"
	"github.com/borrob/3dbag-runner/pkg/staging"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

// TileJob is one grid cell (or one explicit extent) paired with its
// footprint reference, resolved point cloud sources and output destination.
// Immutable once dispatched.
type TileJob struct {
	// Extent is the tile's bounding box.
	Extent grid.BBox

	// Cell is the grid cell this job covers, nil for explicit-extent runs.
	Cell *grid.Cell

	// Footprints references the footprint database to reconstruct from.
	Footprints storage.Location

	// Sources is the resolved, ordered point cloud source list. The first
	// entry is the primary source.
	Sources []pointcloud.Source

	// Destination is the Location prefix the output is published under.
	Destination storage.Location

	// OutputName is the object name published under Destination, with any
	// {x}/{y} placeholders already substituted.
	OutputName string

	// Year is the reconstruction year, stamped on low-LOD sources.
	Year int
}

// TileID implements engine.Job.
func (j *TileJob) TileID() string {
	return j.OutputName
}

// TileExecutor stages a tile job's inputs, invokes the reconstruction tool
// and publishes its output. One invocation owns one staging handle, released
// on every exit path.
type TileExecutor struct {
	Staging *staging.Area
	Runner  Runner
}

// ExecuteTile implements engine.Executor.
func (e *TileExecutor) ExecuteTile(ctx context.Context, job engine.Job) error {
	tile, ok := job.(*TileJob)
	if !ok {
		return engine.NewPermanentError(fmt.Sprintf("executor received unexpected job type %T", job), nil)
	}

	handle, err := e.Staging.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			log.Warn().Str("tile", tile.TileID()).Err(err).Msg("Failed to clean staging directory")
		}
	}()

	footprintPath, err := handle.PathFor("footprints", "footprints.gpkg")
	if err != nil {
		return err
	}
	if err := tile.Footprints.FetchTo(ctx, footprintPath); err != nil {
		return err
	}

	pointclouds, err := e.fetchSources(ctx, handle, tile)
	if err != nil {
		return err
	}

	outputDir, err := handle.PathFor("output", "")
	if err != nil {
		return err
	}
	configPath, err := e.writeConfig(handle, tile, footprintPath, pointclouds, outputDir)
	if err != nil {
		return err
	}

	if err := e.Runner.Run(ctx, ReconstructCommand(configPath)); err != nil {
		return engine.NewPermanentError("reconstruction tool failed", err).
			WithCode(engine.ErrCodeReconstruction).
			WithTile(tile.TileID())
	}

	collected, err := e.collectOutput(ctx, tile, outputDir)
	if err != nil {
		return err
	}

	return tile.Destination.Navigate(tile.OutputName).PublishFrom(ctx, collected)
}

// fetchSources stages every point cloud source's captures for the tile. A
// failure of the primary source is fatal; a fallback source that cannot be
// staged is dropped from the list passed to the tool.
func (e *TileExecutor) fetchSources(ctx context.Context, handle *staging.Handle, tile *TileJob) ([]PointcloudEntry, error) {
	entries := make([]PointcloudEntry, 0, len(tile.Sources))
	for i, src := range tile.Sources {
		files, err := e.fetchSource(ctx, handle, src, tile.Extent)
		if err != nil {
			if i == 0 {
				return nil, engine.NewPermanentError("primary point cloud source failed", err).
					WithCode(engine.ErrCodeFetchFailed).
					WithTile(tile.TileID())
			}
			log.Warn().
				Str("tile", tile.TileID()).
				Str("source", src.Label).
				Err(err).
				Msg("Dropping fallback point cloud source")
			continue
		}

		entry := PointcloudEntry{
			Name:    src.Label,
			Source:  files,
			Quality: len(entries),
		}
		if src.LowLOD {
			entry.Date = tile.Year
			entry.ForceLOD11 = true
			entry.SelectOnlyForDate = true
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// fetchSource stages one source: its capture index first, then every capture
// intersecting the tile extent. A source with no intersecting captures is an
// error so the caller can apply the primary/fallback policy.
func (e *TileExecutor) fetchSource(ctx context.Context, handle *staging.Handle, src pointcloud.Source, extent grid.BBox) ([]string, error) {
	role := "pointcloud:" + src.Label

	indexPath, err := handle.PathFor(role, lazindex.FileName)
	if err != nil {
		return nil, err
	}
	if err := src.Location.Navigate(lazindex.FileName).FetchTo(ctx, indexPath); err != nil {
		return nil, err
	}

	index, err := lazindex.Open(ctx, indexPath)
	if err != nil {
		return nil, err
	}
	defer index.Close()

	captures, err := index.Intersecting(ctx, extent)
	if err != nil {
		return nil, err
	}
	if len(captures) == 0 {
		return nil, fmt.Errorf("source %s has no captures for extent %s", src.Label, extent)
	}

	files := make([]string, 0, len(captures))
	for _, capture := range captures {
		localPath, err := handle.PathFor(role, filepath.Base(capture.Path))
		if err != nil {
			return nil, err
		}
		if err := src.Location.Navigate(capture.Path).FetchTo(ctx, localPath); err != nil {
			// Individual missing captures degrade coverage, they do not
			// invalidate the source.
			log.Warn().Str("source", src.Label).Str("capture", capture.Path).Err(err).
				Msg("Skipped capture")
			continue
		}
		files = append(files, localPath)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("source %s: all %d captures failed to stage", src.Label, len(captures))
	}
	return files, nil
}

func (e *TileExecutor) writeConfig(handle *staging.Handle, tile *TileJob, footprintPath string, pointclouds []PointcloudEntry, outputDir string) (string, error) {
	cfg := NewConfig(footprintPath, pointclouds, tile.Extent, outputDir)
	raw, err := cfg.Marshal()
	if err != nil {
		return "", engine.NewPermanentError("failed to render tool config", err).
			WithCode(engine.ErrCodeReconstruction).
			WithTile(tile.TileID())
	}

	configPath, err := handle.PathFor("config", "roofer.toml")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(configPath, raw, 0o644); err != nil {
		return "", engine.NewPermanentError("failed to write tool config", err).
			WithCode(engine.ErrCodeStagingFailed).
			WithTile(tile.TileID())
	}
	log.Debug().Str("tile", tile.TileID()).Str("config", configPath).Msg("Generated tool configuration")
	return configPath, nil
}

// collectOutput locates the tool's jsonl output and merges it into a single
// cityjson document. A missing output file means the tool silently failed.
func (e *TileExecutor) collectOutput(ctx context.Context, tile *TileJob, outputDir string) (string, error) {
	matches, _ := filepath.Glob(filepath.Join(outputDir, "*.jsonl"))
	if len(matches) == 0 {
		return "", engine.NewPermanentError("reconstruction produced no output file", nil).
			WithCode(engine.ErrCodeReconstruction).
			WithTile(tile.TileID())
	}

	in, err := os.Open(matches[0])
	if err != nil {
		return "", engine.NewPermanentError("failed to open reconstruction output", err).
			WithCode(engine.ErrCodeReconstruction).
			WithTile(tile.TileID())
	}
	defer in.Close()

	collected := filepath.Join(outputDir, "data.city.json")
	out, err := os.Create(collected)
	if err != nil {
		return "", engine.NewPermanentError("failed to create collected output", err).
			WithCode(engine.ErrCodeStagingFailed).
			WithTile(tile.TileID())
	}
	defer out.Close()

	if err := e.Runner.Run(ctx, CollectCommand(in, out)); err != nil {
		return "", engine.NewPermanentError("output collection failed", err).
			WithCode(engine.ErrCodeReconstruction).
			WithTile(tile.TileID())
	}
	return collected, nil
}
