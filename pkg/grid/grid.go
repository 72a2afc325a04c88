// Package grid partitions a geographic extent into regular square cells.
// Cell coordinates are expressed in units of the grid size from the implicit
// (0,0) origin of the coordinate reference system.
package grid

import (
	"fmt"
	"math"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

// BBox is an axis-aligned bounding box in CRS units.
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func (b BBox) String() string {
	return fmt.Sprintf("[%g %g %g %g]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Valid reports whether the box has positive area.
func (b BBox) Valid() bool {
	return b.MaxX > b.MinX && b.MaxY > b.MinY
}

// Intersects reports whether two boxes share any area or edge.
func (b BBox) Intersects(other BBox) bool {
	return b.MinX <= other.MaxX && other.MinX <= b.MaxX &&
		b.MinY <= other.MaxY && other.MinY <= b.MaxY
}

// Cell addresses one grid cell by its (x, y) index.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// CellExtent derives a cell's bounding extent from its index.
func CellExtent(c Cell, gridSize int) (BBox, error) {
	if gridSize <= 0 {
		return BBox{}, engine.NewPermanentError("grid size must be positive", nil).
			WithCode(engine.ErrCodeInvalidGridSize)
	}
	g := float64(gridSize)
	return BBox{
		MinX: float64(c.X) * g,
		MinY: float64(c.Y) * g,
		MaxX: float64(c.X+1) * g,
		MaxY: float64(c.Y+1) * g,
	}, nil
}

// Partition enumerates the cells covering the extent, from floor(min/size)
// through floor(max/size) inclusive on both axes. Cells that only partially
// overlap the extent are included; a footprint spanning a cell boundary is
// therefore assigned to every overlapping cell, and deduplication is left to
// downstream tiling.
func Partition(extent BBox, gridSize int) ([]Cell, error) {
	if gridSize <= 0 {
		return nil, engine.NewPermanentError("grid size must be positive", nil).
			WithCode(engine.ErrCodeInvalidGridSize)
	}
	if !extent.Valid() {
		return nil, engine.NewPermanentError("extent has no area: "+extent.String(), nil).
			WithCode(engine.ErrCodeInvalidGridSize)
	}

	g := float64(gridSize)
	minX := int(math.Floor(extent.MinX / g))
	minY := int(math.Floor(extent.MinY / g))
	maxX := int(math.Floor(extent.MaxX / g))
	maxY := int(math.Floor(extent.MaxY / g))

	cells := make([]Cell, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			cells = append(cells, Cell{X: x, Y: y})
		}
	}
	return cells, nil
}
