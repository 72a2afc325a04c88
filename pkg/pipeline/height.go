package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

// GDALHeightBuilder flattens reconstructed city.json tiles into a single
// geopackage of building attributes using ogr2ogr. With Sound layers the
// geometry is taken from LoD 1.3 roof surfaces, otherwise LoD 2.2.
type GDALHeightBuilder struct {
	Runner roofer.Runner
}

func (b *GDALHeightBuilder) Build(ctx context.Context, source, destination storage.Location, tempDir string, sound bool) error {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	workDir, err := os.MkdirTemp(tempDir, "height-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	tiles, err := source.List(ctx, cityJSONPattern)
	if err != nil {
		return err
	}
	if len(tiles) == 0 {
		return fmt.Errorf("no city.json tiles found under %s", source)
	}

	layer := "lod22"
	if sound {
		layer = "lod13"
	}
	database := filepath.Join(workDir, fmt.Sprintf("heights_%s.gpkg", layer))
	log.Info().Int("tiles", len(tiles)).Str("layer", layer).Msg("Building height database")

	for i, tile := range tiles {
		local := filepath.Join(workDir, fmt.Sprintf("tile_%d.city.json", i))
		if err := source.Navigate(tile.Path).FetchTo(ctx, local); err != nil {
			log.Warn().Str("tile", tile.Name).Err(err).Msg("Skipping unreadable tile")
			continue
		}
		args := []string{"-f", "GPKG", database, local, "-nln", layer, "-oo", "2D=YES"}
		if i > 0 {
			args = append([]string{"-append"}, args...)
		}
		if err := b.Runner.Run(ctx, roofer.CommandSpec{Name: "ogr2ogr", Args: args}); err != nil {
			return fmt.Errorf("merging %s failed: %w", tile.Name, err)
		}
		if err := os.Remove(local); err != nil {
			return err
		}
	}

	return destination.Navigate(filepath.Base(database)).PublishFrom(ctx, database)
}
