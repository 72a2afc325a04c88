package staging

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TestAcquireCreatesIsolatedDirectories tests that handles do not share
// directories
func TestAcquireCreatesIsolatedDirectories(t *testing.T) {
	area, err := NewArea(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}

	first, err := area.Acquire()
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	second, err := area.Acquire()
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}

	if first.Dir() == second.Dir() {
		t.Errorf("Expected distinct directories, both got %s", first.Dir())
	}
	for _, h := range []*Handle{first, second} {
		if info, err := os.Stat(h.Dir()); err != nil || !info.IsDir() {
			t.Errorf("Expected directory at %s, got err=%v", h.Dir(), err)
		}
	}
}

// TestConcurrentAcquire tests that parallel workers get unique directories
func TestConcurrentAcquire(t *testing.T) {
	area, err := NewArea(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}

	const n = 16
	dirs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := area.Acquire()
			if err != nil {
				t.Errorf("Acquire() returned error: %v", err)
				return
			}
			dirs[i] = handle.Dir()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if seen[dir] {
			t.Errorf("Directory %s handed out twice", dir)
		}
		seen[dir] = true
	}
}

// TestPathForNamespacesRoles tests role-based path namespacing
func TestPathForNamespacesRoles(t *testing.T) {
	area, err := NewArea(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}
	handle, err := area.Acquire()
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}

	a, err := handle.PathFor("pointcloud:AHN4", "index.sqlite")
	if err != nil {
		t.Fatalf("PathFor() returned error: %v", err)
	}
	b, err := handle.PathFor("pointcloud:AHN3", "index.sqlite")
	if err != nil {
		t.Fatalf("PathFor() returned error: %v", err)
	}

	if a == b {
		t.Errorf("Expected distinct paths for distinct roles, both got %s", a)
	}
	if filepath.Base(a) != "index.sqlite" {
		t.Errorf("Expected file name preserved, got %s", a)
	}
	// The role directory must already exist so callers can write immediately.
	if info, err := os.Stat(filepath.Dir(a)); err != nil || !info.IsDir() {
		t.Errorf("Expected role directory at %s, got err=%v", filepath.Dir(a), err)
	}
}

// TestReleaseRemovesDirectory tests cleanup on release
func TestReleaseRemovesDirectory(t *testing.T) {
	area, err := NewArea(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewArea() returned error: %v", err)
	}
	handle, err := area.Acquire()
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}

	path, err := handle.PathFor("output", "data.city.json")
	if err != nil {
		t.Fatalf("PathFor() returned error: %v", err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %v", err)
	}

	if err := handle.Release(); err != nil {
		t.Fatalf("Release() returned error: %v", err)
	}
	if _, err := os.Stat(handle.Dir()); !os.IsNotExist(err) {
		t.Errorf("Expected staging directory removed, stat err=%v", err)
	}
	if !handle.Released() {
		t.Error("Expected Released() to report true")
	}

	// A second release is a no-op.
	if err := handle.Release(); err != nil {
		t.Errorf("Expected second Release() to be nil, got %v", err)
	}
}
