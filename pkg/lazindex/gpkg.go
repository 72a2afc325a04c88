package lazindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/borrob/3dbag-runner/pkg/grid"
)

// FootprintExtent reads the total extent of a footprint geopackage. A
// geopackage is a sqlite database; the registered extent of every feature
// table lives in gpkg_contents, so no geometry decoding is needed.
func FootprintExtent(ctx context.Context, path string) (grid.BBox, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return grid.BBox{}, fmt.Errorf("failed to open footprint database: %w", err)
	}
	defer db.Close()

	query := `
		SELECT MIN(min_x), MIN(min_y), MAX(max_x), MAX(max_y)
		FROM gpkg_contents
		WHERE data_type = 'features'
	`
	var box grid.BBox
	var minX, minY, maxX, maxY sql.NullFloat64
	if err := db.QueryRowContext(ctx, query).Scan(&minX, &minY, &maxX, &maxY); err != nil {
		return grid.BBox{}, fmt.Errorf("failed to read footprint extent: %w", err)
	}
	if !minX.Valid || !minY.Valid || !maxX.Valid || !maxY.Valid {
		return grid.BBox{}, fmt.Errorf("footprint database %s registers no feature extent", path)
	}

	box = grid.BBox{MinX: minX.Float64, MinY: minY.Float64, MaxX: maxX.Float64, MaxY: maxY.Float64}
	if !box.Valid() {
		return grid.BBox{}, fmt.Errorf("footprint database %s has a degenerate extent %s", path, box)
	}
	return box, nil
}
