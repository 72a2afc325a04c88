// Package pipeline holds the collaborator boundaries around the tile
// orchestrator core: footprint database construction, point cloud splitting,
// 3D tiles packaging and height/sound database building. Their internal
// logic lives in external tools; this package only stages inputs, invokes
// the tool and publishes outputs through the same Location abstraction the
// core uses.
package pipeline

import (
	"context"

	"github.com/borrob/3dbag-runner/pkg/storage"
)

// FootprintDatabaseBuilder constructs a footprint geopackage for a
// reconstruction year.
type FootprintDatabaseBuilder interface {
	Build(ctx context.Context, year int, database string, tempDir string) error
}

// PointCloudSplitter splits large point cloud captures into grid-sized
// chunks and publishes them.
type PointCloudSplitter interface {
	Split(ctx context.Context, input, output storage.Location, gridSize int, tempDir string, maxWorkers int) error
}

// TilesetPackager packages reconstructed cityjson tiles into a 3D tiles
// tree.
type TilesetPackager interface {
	Package(ctx context.Context, source, destination storage.Location, mode, metadataPath, tempDir string) error
}

// HeightDatabaseBuilder derives a per-building height (or sound) database
// from reconstructed cityjson tiles.
type HeightDatabaseBuilder interface {
	Build(ctx context.Context, source, destination storage.Location, tempDir string, sound bool) error
}
