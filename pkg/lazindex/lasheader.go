package lazindex

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/borrob/3dbag-runner/pkg/grid"
)

// HeaderSize is the number of bytes needed to decode the LAS 1.x public
// header block through the bounding box fields. A ranged fetch of this many
// bytes is enough to index a capture without downloading it.
const HeaderSize = 227

// LASHeader holds the public header fields the index cares about. LAZ files
// carry the same header layout as LAS.
type LASHeader struct {
	VersionMajor uint8
	VersionMinor uint8
	CreationDay  uint16
	CreationYear uint16
	MinX         float64
	MinY         float64
	MaxX         float64
	MaxY         float64
}

// ParseLASHeader decodes the LAS public header block from raw bytes.
func ParseLASHeader(raw []byte) (LASHeader, error) {
	if len(raw) < HeaderSize {
		return LASHeader{}, fmt.Errorf("las header truncated: got %d bytes, need %d", len(raw), HeaderSize)
	}
	if string(raw[0:4]) != "LASF" {
		return LASHeader{}, fmt.Errorf("not a las file: bad signature %q", raw[0:4])
	}

	le := binary.LittleEndian
	f64 := func(offset int) float64 {
		return math.Float64frombits(le.Uint64(raw[offset:]))
	}

	return LASHeader{
		VersionMajor: raw[24],
		VersionMinor: raw[25],
		CreationDay:  le.Uint16(raw[90:]),
		CreationYear: le.Uint16(raw[92:]),
		MaxX:         f64(179),
		MinX:         f64(187),
		MaxY:         f64(195),
		MinY:         f64(203),
	}, nil
}

// Extent returns the capture's bounding box.
func (h LASHeader) Extent() grid.BBox {
	return grid.BBox{MinX: h.MinX, MinY: h.MinY, MaxX: h.MaxX, MaxY: h.MaxY}
}
