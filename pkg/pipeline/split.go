package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

var (
	lazFilePattern = regexp.MustCompile(`(?i)^.*\.laz$`)

	// tileNamePattern extracts the lower-left tile coordinates the splitter
	// appends to generated file names: <base>_<x>_<y>.laz.
	tileNamePattern = regexp.MustCompile(`.*_(\d+)_(\d+)\.laz$`)
)

// TileSplitter splits laz captures into grid chunks with the external
// lastile tool and republishes the chunks under coordinate-based names.
type TileSplitter struct {
	Runner roofer.Runner
}

// Split implements PointCloudSplitter. Captures are processed concurrently;
// a capture that fails to split is logged and skipped so one corrupt file
// does not sink a multi-hour splitting run.
func (s *TileSplitter) Split(ctx context.Context, input, output storage.Location, gridSize int, tempDir string, maxWorkers int) error {
	if gridSize <= 0 {
		return fmt.Errorf("grid size must be positive, got %d", gridSize)
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	captures, err := input.List(ctx, lazFilePattern)
	if err != nil {
		return err
	}
	log.Info().Int("files", len(captures)).Int("workers", maxWorkers).Msg("Splitting laz captures")

	work := make(chan storage.Entry)
	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for capture := range work {
				if err := s.splitOne(ctx, input, output, capture, gridSize, tempDir); err != nil {
					log.Error().Str("capture", capture.Name).Err(err).Msg("Failed to split capture")
				}
			}
		}()
	}

	for _, capture := range captures {
		select {
		case work <- capture:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(work)
	wg.Wait()
	return nil
}

func (s *TileSplitter) splitOne(ctx context.Context, input, output storage.Location, capture storage.Entry, gridSize int, tempDir string) error {
	workDir, err := os.MkdirTemp(tempDir, "split-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, capture.Name)
	if err := input.Navigate(capture.Path).FetchTo(ctx, localPath); err != nil {
		return err
	}

	chunkDir := filepath.Join(workDir, "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return err
	}
	args := []string{
		"-i", localPath,
		"-tile_size", fmt.Sprint(gridSize),
		"-odir", chunkDir,
		"-olaz",
	}
	if err := s.Runner.Run(ctx, roofer.CommandSpec{Name: "lastile", Args: args}); err != nil {
		return fmt.Errorf("splitting %s failed: %w", capture.Name, err)
	}

	chunks, err := os.ReadDir(chunkDir)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(strings.TrimSuffix(capture.Name, ".laz"), ".LAZ")
	published := 0
	for _, chunk := range chunks {
		m := tileNamePattern.FindStringSubmatch(chunk.Name())
		if m == nil {
			log.Warn().Str("chunk", chunk.Name()).Msg("Skipping chunk without tile coordinates")
			continue
		}
		name := fmt.Sprintf("%s_%s_%s.laz", base, m[1], m[2])
		if err := output.Navigate(name).PublishFrom(ctx, filepath.Join(chunkDir, chunk.Name())); err != nil {
			return err
		}
		published++
	}
	log.Info().Str("capture", capture.Name).Int("chunks", published).Msg("Capture split and published")
	return nil
}
