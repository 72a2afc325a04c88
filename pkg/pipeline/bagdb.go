package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/borrob/3dbag-runner/pkg/roofer"
)

// bagExtractURL is the nationwide BAG building registry extract (NL).
const bagExtractURL = "https://service.pdok.nl/kadaster/adressen/atom/v1_0/downloads/lvbag-extract-nl.zip"

var pandArchivePattern = regexp.MustCompile(`^.*PND.*\.zip$`)

// BAGFootprintBuilder builds a footprint geopackage from the BAG extract.
// The cadastral parsing itself is delegated to GDAL's ogr2ogr.
type BAGFootprintBuilder struct {
	Runner roofer.Runner
}

// Build implements FootprintDatabaseBuilder.
func (b *BAGFootprintBuilder) Build(ctx context.Context, year int, database string, tempDir string) error {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	archive := filepath.Join(tempDir, "lvbag-extract-nl.zip")
	if err := downloadIfNotExists(ctx, bagExtractURL, archive); err != nil {
		return err
	}

	pandArchive, err := extractMatching(archive, tempDir, pandArchivePattern)
	if err != nil {
		return err
	}

	log.Info().Str("archive", pandArchive).Int("year", year).Msg("Converting building extract to geopackage")
	args := []string{
		"-f", "GPKG",
		database,
		"/vsizip/" + pandArchive,
	}
	if err := b.Runner.Run(ctx, roofer.CommandSpec{Name: "ogr2ogr", Args: args}); err != nil {
		return fmt.Errorf("footprint conversion failed: %w", err)
	}
	return nil
}

// downloadIfNotExists fetches url to path unless a previous run already left
// the file there. The BAG extract is several gigabytes; re-downloading it on
// every retry of the surrounding workflow is wasteful.
func downloadIfNotExists(ctx context.Context, url, path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Info().Str("path", path).Msg("Extract already present, skipping download")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return out.Close()
}

// extractMatching extracts the first archive member whose name matches the
// pattern and returns its path on disk.
func extractMatching(archive, destDir string, pattern *regexp.Regexp) (string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("failed to open archive %s: %w", archive, err)
	}
	defer r.Close()

	for _, member := range r.File {
		if !pattern.MatchString(member.Name) {
			continue
		}
		src, err := member.Open()
		if err != nil {
			return "", err
		}
		defer src.Close()

		dest := filepath.Join(destDir, filepath.Base(member.Name))
		out, err := os.Create(dest)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(out, src); err != nil {
			_ = out.Close()
			return "", fmt.Errorf("failed to extract %s: %w", member.Name, err)
		}
		return dest, out.Close()
	}
	return "", fmt.Errorf("archive %s has no member matching %s", archive, pattern)
}
