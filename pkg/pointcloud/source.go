// Package pointcloud models the point cloud sources a reconstruction run
// draws from and resolves their fallback order.
package pointcloud

import (
	"fmt"

	"github.com/borrob/3dbag-runner/pkg/engine"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

// Source is one point cloud input: a Location holding laz tiles plus their
// index, a label such as "AHN4", and a low-LOD marker for captures that are
// too coarse for fine-grained region-growing reconstruction.
type Source struct {
	Location storage.Location
	Label    string
	LowLOD   bool

	// Priority is the source's position in the resolved order, 0 being the
	// most authoritative. Assigned by Resolve.
	Priority int
}

// FromFlags pairs the URI and label lists a command received into sources.
// The two lists must have equal length and is the order the user chose as
// fallback priority.
func FromFlags(uris, labels []string, lowLOD bool) ([]Source, error) {
	if len(uris) != len(labels) {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("got %d point cloud URIs but %d labels", len(uris), len(labels)), nil).
			WithCode(engine.ErrCodeInvalidLocation)
	}
	sources := make([]Source, 0, len(uris))
	for i, uri := range uris {
		loc, err := storage.Resolve(uri)
		if err != nil {
			return nil, err
		}
		sources = append(sources, Source{
			Location: loc,
			Label:    labels[i],
			LowLOD:   lowLOD,
		})
	}
	return sources, nil
}

// Resolve produces the ordered source list for a run: full-resolution
// sources first in user-specified order, then all low-LOD sources in their
// given order. The first source that has data for a region is authoritative
// and later ones fill gaps; the reconstruction tool decides per-building
// precedence using this order and the low-LOD flags, not this package.
func Resolve(full, lowLOD []Source) ([]Source, error) {
	if len(full)+len(lowLOD) == 0 {
		return nil, engine.NewPermanentError("no point cloud sources configured", nil).
			WithCode(engine.ErrCodeNoSources)
	}

	resolved := make([]Source, 0, len(full)+len(lowLOD))
	seen := make(map[string]struct{}, len(full)+len(lowLOD))
	for _, src := range full {
		src.LowLOD = false
		resolved = append(resolved, src)
	}
	for _, src := range lowLOD {
		src.LowLOD = true
		resolved = append(resolved, src)
	}

	for i := range resolved {
		if _, dup := seen[resolved[i].Label]; dup {
			return nil, engine.NewPermanentError(
				"duplicate point cloud label: "+resolved[i].Label, nil).
				WithCode(engine.ErrCodeNoSources)
		}
		seen[resolved[i].Label] = struct{}{}
		resolved[i].Priority = i
	}
	return resolved, nil
}
