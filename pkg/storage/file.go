package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

// fileLocation is the local filesystem variant. Operations are plain
// filesystem calls and are never retried: a local failure indicates a
// programming or permissions error, not a transient fault.
type fileLocation struct {
	path string
}

func newFileLocation(path string) *fileLocation {
	return &fileLocation{path: filepath.Clean(path)}
}

func (l *fileLocation) Scheme() Scheme {
	return SchemeFile
}

func (l *fileLocation) String() string {
	return "file://" + l.path
}

// Path exposes the underlying filesystem path for callers that open the
// object directly, e.g. the geopackage extent probe.
func (l *fileLocation) Path() string {
	return l.path
}

func (l *fileLocation) Navigate(parts ...string) Location {
	return newFileLocation(filepath.Join(append([]string{l.path}, parts...)...))
}

func (l *fileLocation) List(_ context.Context, pattern *regexp.Regexp) ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.path)
	if err != nil {
		return nil, engine.NewPermanentError("failed to list directory", err).
			WithCode(engine.ErrCodeFetchFailed).
			WithOperation("list " + l.String())
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if pattern != nil && !pattern.MatchString(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name: de.Name(),
			Path: de.Name(),
			Size: info.Size(),
		})
	}
	return entries, nil
}

func (l *fileLocation) FetchTo(_ context.Context, localPath string) error {
	if err := copyFile(l.path, localPath); err != nil {
		return engine.NewPermanentError("failed to copy local file", err).
			WithCode(engine.ErrCodeFetchFailed).
			WithOperation("fetch " + l.String())
	}
	return nil
}

func (l *fileLocation) FetchRange(_ context.Context, offset, length int64) ([]byte, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, engine.NewPermanentError("failed to open local file", err).
			WithCode(engine.ErrCodeFetchFailed).
			WithOperation("fetch-range " + l.String())
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, engine.NewPermanentError("failed to read local file range", err).
			WithCode(engine.ErrCodeFetchFailed).
			WithOperation("fetch-range " + l.String())
	}
	return buf[:n], nil
}

func (l *fileLocation) PublishFrom(_ context.Context, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return engine.NewPermanentError("failed to create destination directory", err).
			WithCode(engine.ErrCodePublishFailed).
			WithOperation("publish " + l.String())
	}
	if err := copyFile(localPath, l.path); err != nil {
		return engine.NewPermanentError("failed to copy to local destination", err).
			WithCode(engine.ErrCodePublishFailed).
			WithOperation("publish " + l.String())
	}
	return nil
}

func (l *fileLocation) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(l.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, engine.NewPermanentError("failed to stat local file", err).
		WithCode(engine.ErrCodeFetchFailed).
		WithOperation("exists " + l.String())
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
