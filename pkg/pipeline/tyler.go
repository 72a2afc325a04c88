package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

var cityJSONPattern = regexp.MustCompile(`(?i)^.*city\.json$`)

// TylerPackager packages cityjson tiles with the external tyler tool.
type TylerPackager struct {
	Runner roofer.Runner
}

// Package implements TilesetPackager. It stages the source's cityjson files,
// runs tyler in the requested mode, and publishes the generated tileset
// tree.
func (p *TylerPackager) Package(ctx context.Context, source, destination storage.Location, mode, metadataPath, tempDir string) error {
	var objectTypes []string
	switch mode {
	case "buildings":
		objectTypes = []string{"Building", "BuildingPart"}
	case "terrain":
		objectTypes = []string{"TINRelief"}
	default:
		return fmt.Errorf("invalid mode %q: must be 'buildings' or 'terrain'", mode)
	}

	inputDir := filepath.Join(tempDir, "input")
	outputDir := filepath.Join(tempDir, "output")
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
	}

	entries, err := source.List(ctx, cityJSONPattern)
	if err != nil {
		return err
	}
	log.Info().Int("files", len(entries)).Msg("Staging cityjson tiles for packaging")
	for _, entry := range entries {
		if err := source.Navigate(entry.Path).FetchTo(ctx, filepath.Join(inputDir, entry.Name)); err != nil {
			return err
		}
	}

	args := []string{
		"--metadata", metadataPath,
		"--features", inputDir,
		"--output", outputDir,
	}
	for _, t := range objectTypes {
		args = append(args, "--object-type", t)
	}
	if err := p.Runner.Run(ctx, roofer.CommandSpec{Name: "tyler", Args: args}); err != nil {
		return fmt.Errorf("tileset packaging failed: %w", err)
	}

	log.Info().Msg("Packaging finished, publishing tileset")
	return publishDir(ctx, outputDir, destination)
}
