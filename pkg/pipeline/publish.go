package pipeline

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/borrob/3dbag-runner/pkg/storage"
)

// publishDir publishes every file under dir to the destination Location,
// preserving relative paths.
func publishDir(ctx context.Context, dir string, destination storage.Location) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return destination.Navigate(filepath.ToSlash(rel)).PublishFrom(ctx, path)
	})
}
