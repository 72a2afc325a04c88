// Package lazindex maintains the per-source index of laz captures: which
// files a point cloud source holds and the extent each one covers. The tile
// executor queries the index by bounding box to decide which captures a tile
// needs, instead of downloading a whole source.
package lazindex

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/borrob/3dbag-runner/pkg/grid"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// FileName is the conventional name of the index database inside a point
// cloud source's Location.
const FileName = "index.sqlite"

// Entry is one indexed laz capture.
type Entry struct {
	// Path is the capture's path relative to the source Location.
	Path string

	// Extent is the capture's bounding box from its LAS header.
	Extent grid.BBox

	// CaptureYear is the file creation year from the LAS header, 0 when the
	// producing software did not record one.
	CaptureYear int

	// Size is the object size in bytes.
	Size int64
}

// Index is a sqlite-backed laz capture index.
type Index struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) an index database and applies migrations.
func Open(ctx context.Context, path string) (*Index, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	idx := &Index{db: db, path: path}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(i.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the index database.
func (i *Index) Close() error {
	return i.db.Close()
}

// Add inserts or replaces one capture entry.
func (i *Index) Add(ctx context.Context, entry Entry) error {
	query := `
		INSERT OR REPLACE INTO laz_entries (path, min_x, min_y, max_x, max_y, capture_year, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := i.db.ExecContext(ctx, query,
		entry.Path,
		entry.Extent.MinX,
		entry.Extent.MinY,
		entry.Extent.MaxX,
		entry.Extent.MaxY,
		entry.CaptureYear,
		entry.Size,
	)
	if err != nil {
		return fmt.Errorf("failed to insert index entry %s: %w", entry.Path, err)
	}
	return nil
}

// Intersecting returns all captures whose extent overlaps the given box.
func (i *Index) Intersecting(ctx context.Context, box grid.BBox) ([]Entry, error) {
	query := `
		SELECT path, min_x, min_y, max_x, max_y, capture_year, size_bytes
		FROM laz_entries
		WHERE min_x <= ? AND max_x >= ? AND min_y <= ? AND max_y >= ?
		ORDER BY path
	`
	rows, err := i.db.QueryContext(ctx, query, box.MaxX, box.MinX, box.MaxY, box.MinY)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.Extent.MinX, &e.Extent.MinY,
			&e.Extent.MaxX, &e.Extent.MaxY, &e.CaptureYear, &e.Size); err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of indexed captures.
func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := i.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM laz_entries").Scan(&n)
	return n, err
}

// lazPattern matches las/laz objects case-insensitively.
var lazPattern = regexp.MustCompile(`(?i)^.*\.(las|laz)$`)

// Build lists the laz captures under source, reads each capture's LAS header
// with a ranged fetch, and fills the index. Header fetches run concurrently;
// a capture whose header cannot be read is logged and skipped so one corrupt
// object does not sink the whole index.
func (i *Index) Build(ctx context.Context, source storage.Location, pattern *regexp.Regexp, workers int) error {
	if pattern == nil {
		pattern = lazPattern
	}
	if workers <= 0 {
		workers = 8
	}

	entries, err := source.List(ctx, pattern)
	if err != nil {
		return err
	}
	log.Info().Int("files", len(entries)).Stringer("source", source).Msg("Indexing laz captures")

	type parsed struct {
		entry Entry
		ok    bool
	}
	results := make([]parsed, len(entries))

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range work {
				obj := entries[n]
				raw, err := source.Navigate(obj.Path).FetchRange(ctx, 0, HeaderSize)
				if err != nil {
					log.Warn().Str("file", obj.Path).Err(err).Msg("Skipping capture, header fetch failed")
					continue
				}
				header, err := ParseLASHeader(raw)
				if err != nil {
					log.Warn().Str("file", obj.Path).Err(err).Msg("Skipping capture, header unreadable")
					continue
				}
				results[n] = parsed{
					entry: Entry{
						Path:        obj.Path,
						Extent:      header.Extent(),
						CaptureYear: int(header.CreationYear),
						Size:        obj.Size,
					},
					ok: true,
				}
			}
		}()
	}

	for n := range entries {
		select {
		case work <- n:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(work)
	wg.Wait()

	indexed := 0
	for _, r := range results {
		if !r.ok {
			continue
		}
		if err := i.Add(ctx, r.entry); err != nil {
			return err
		}
		indexed++
	}
	log.Info().Int("indexed", indexed).Int("skipped", len(entries)-indexed).Msg("Index build finished")
	return nil
}
