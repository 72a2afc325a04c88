// Package staging manages the temporary directories that materialize remote
// inputs locally and capture outputs before they are pushed back to their
// destination Location.
package staging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

// Allocator produces unique directory names. Implementations must be safe
// for concurrent use: every worker slot acquires staging through the same
// Area.
type Allocator interface {
	Next() string
}

// UUIDAllocator names staging directories with random UUIDs.
type UUIDAllocator struct{}

func (UUIDAllocator) Next() string {
	return uuid.NewString()
}

// Area hands out isolated staging directories under a common root. The Area
// holds no cross-job state beyond the name allocator.
type Area struct {
	root  string
	alloc Allocator
	mu    sync.Mutex
}

// NewArea prepares the staging root. The allocator may be nil, in which case
// directories are named with UUIDs.
func NewArea(root string, alloc Allocator) (*Area, error) {
	if alloc == nil {
		alloc = UUIDAllocator{}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, engine.NewPermanentError("failed to create staging root", err).
			WithCode(engine.ErrCodeStagingFailed)
	}
	return &Area{root: root, alloc: alloc}, nil
}

// Acquire creates a fresh empty staging directory and returns its handle.
func (a *Area) Acquire() (*Handle, error) {
	a.mu.Lock()
	name := a.alloc.Next()
	a.mu.Unlock()

	dir := filepath.Join(a.root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, engine.NewPermanentError("failed to create staging directory", err).
			WithCode(engine.ErrCodeStagingFailed)
	}
	return &Handle{dir: dir}, nil
}

// Handle is the scoped ownership of one staging directory. It is owned by a
// single tile execution and must be released on every exit path.
type Handle struct {
	dir      string
	mu       sync.Mutex
	released bool
}

// Dir returns the staging directory root.
func (h *Handle) Dir() string {
	return h.dir
}

// PathFor returns a local path for a file, namespaced by role so that inputs
// from different sources cannot collide. Roles in use: "footprints",
// "pointcloud:<label>", "output".
func (h *Handle) PathFor(role, name string) (string, error) {
	// Colons appear in pointcloud role names but not in directory names.
	roleDir := filepath.Join(h.dir, strings.ReplaceAll(role, ":", "-"))
	if err := os.MkdirAll(roleDir, 0o755); err != nil {
		return "", engine.NewPermanentError("failed to create staging role directory", err).
			WithCode(engine.ErrCodeStagingFailed)
	}
	return filepath.Join(roleDir, name), nil
}

// Release deletes the staging directory tree. Calling Release more than once
// is harmless; only the first call removes anything.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	if err := os.RemoveAll(h.dir); err != nil {
		return engine.NewPermanentError("failed to remove staging directory", err).
			WithCode(engine.ErrCodeStagingFailed)
	}
	return nil
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}
