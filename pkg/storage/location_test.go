package storage

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

// TestResolveSchemes tests scheme dispatch
func TestResolveSchemes(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		scheme  Scheme
		wantErr bool
	}{
		{"local absolute", "file:///data/tiles", SchemeFile, false},
		{"local relative", "file://data/tiles", SchemeFile, false},
		{"azure with token", "azure://https://acct.blob.core.windows.net/tiles/ahn4?sv=token", SchemeAzure, false},
		{"azure without token", "azure://https://acct.blob.core.windows.net/tiles", "", true},
		{"azure without container", "azure://https://acct.blob.core.windows.net/?sv=token", "", true},
		{"azure without embedded url", "azure://acct/tiles?sv=token", "", true},
		{"unknown scheme", "s3://bucket/key", "", true},
		{"bare path", "/data/tiles", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := Resolve(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q, got nil", tt.uri)
				}
				if engine.CodeOf(err) != engine.ErrCodeInvalidLocation {
					t.Errorf("Expected code %s, got %s", engine.ErrCodeInvalidLocation, engine.CodeOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) returned error: %v", tt.uri, err)
			}
			if loc.Scheme() != tt.scheme {
				t.Errorf("Expected scheme %s, got %s", tt.scheme, loc.Scheme())
			}
		})
	}
}

// TestFileLocationRoundTrip tests publish, exists, fetch and list on the
// local variant
func TestFileLocationRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	src := filepath.Join(root, "src.laz")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %v", err)
	}

	base, err := Resolve("file://" + filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	dst := base.Navigate("tiles", "a.laz")
	exists, err := dst.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists() returned error: %v", err)
	}
	if exists {
		t.Error("Expected object to be absent before publish")
	}

	if err := dst.PublishFrom(ctx, src); err != nil {
		t.Fatalf("PublishFrom() returned error: %v", err)
	}
	exists, err = dst.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists() returned error: %v", err)
	}
	if !exists {
		t.Error("Expected object to exist after publish")
	}

	fetched := filepath.Join(root, "fetched.laz")
	if err := dst.FetchTo(ctx, fetched); err != nil {
		t.Fatalf("FetchTo() returned error: %v", err)
	}
	data, err := os.ReadFile(fetched)
	if err != nil {
		t.Fatalf("ReadFile() returned error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Expected 'payload', got %q", data)
	}

	entries, err := base.Navigate("tiles").List(ctx, regexp.MustCompile(`\.laz$`))
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.laz" {
		t.Errorf("Expected one entry 'a.laz', got %v", entries)
	}
	if entries[0].Size != int64(len("payload")) {
		t.Errorf("Expected size %d, got %d", len("payload"), entries[0].Size)
	}
}

// TestFileLocationFetchRange tests ranged reads
func TestFileLocationFetchRange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "capture.laz")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %v", err)
	}

	loc, err := Resolve("file://" + path)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}

	data, err := loc.FetchRange(ctx, 2, 4)
	if err != nil {
		t.Fatalf("FetchRange() returned error: %v", err)
	}
	if string(data) != "2345" {
		t.Errorf("Expected '2345', got %q", data)
	}

	// A range running past the end returns the available bytes.
	data, err = loc.FetchRange(ctx, 8, 10)
	if err != nil {
		t.Fatalf("FetchRange() returned error: %v", err)
	}
	if string(data) != "89" {
		t.Errorf("Expected '89', got %q", data)
	}
}

// TestFileLocationListSkipsDirectories tests that nested directories are not
// listed as objects
func TestFileLocationListSkipsDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatalf("Mkdir() returned error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.laz"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %v", err)
	}

	loc, err := Resolve("file://" + root)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	entries, err := loc.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.laz" {
		t.Errorf("Expected only 'a.laz', got %v", entries)
	}
}
