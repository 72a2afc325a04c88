// Package storage abstracts the places tile inputs and outputs live.
//
// A Location is a parsed reference to a storage object or prefix, tagged by
// scheme. Two variants exist: the local filesystem (file://) and
// token-authenticated Azure blob storage (azure://). The variant is selected
// once at parse time; all callers work against the Location interface and
// never dispatch on URI strings themselves.
package storage

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

// Scheme identifies the storage backend of a Location.
type Scheme string

const (
	SchemeFile  Scheme = "file"
	SchemeAzure Scheme = "azure"
)

// Entry describes one child object found by List.
type Entry struct {
	// Name is the base name of the object.
	Name string

	// Path is the object's path relative to the listed Location. Resolve a
	// child Location with Navigate(Path).
	Path string

	// Size is the object size in bytes, where the backend reports one.
	Size int64
}

// Location is a reference to a storage object or prefix. Implementations are
// immutable and safe to share read-only across concurrent jobs.
type Location interface {
	// Scheme reports which backend variant this Location is.
	Scheme() Scheme

	// String renders the Location for logs. Credentials are redacted.
	String() string

	// Navigate returns a child Location for the given relative path parts.
	// Parent navigation is not supported.
	Navigate(parts ...string) Location

	// List enumerates the objects directly under this Location. The pattern,
	// when non-nil, filters entries by name. The enumeration is finite and
	// List may be called repeatedly.
	List(ctx context.Context, pattern *regexp.Regexp) ([]Entry, error)

	// FetchTo downloads or copies the object to localPath.
	FetchTo(ctx context.Context, localPath string) error

	// FetchRange reads length bytes starting at offset, e.g. a file header.
	FetchRange(ctx context.Context, offset, length int64) ([]byte, error)

	// PublishFrom uploads or copies a local file to this Location,
	// overwriting any existing object.
	PublishFrom(ctx context.Context, localPath string) error

	// Exists reports whether an object is present at this Location.
	Exists(ctx context.Context) (bool, error)
}

// Resolve parses a scheme-prefixed URI into a Location.
//
//	file://relative/or/absolute/path
//	azure://https://account.blob.core.windows.net/container/prefix?sv=<token>
func Resolve(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return newFileLocation(strings.TrimPrefix(uri, "file://")), nil
	case strings.HasPrefix(uri, "azure://"):
		return parseAzureLocation(strings.TrimPrefix(uri, "azure://"))
	default:
		return nil, engine.NewPermanentError("unrecognized storage scheme", nil).
			WithCode(engine.ErrCodeInvalidLocation).
			WithOperation("resolve " + uri)
	}
}

// remoteRetryAttempts bounds retries of remote operations. Matches the blob
// service retry policy the pipeline has always run with: 1s initial backoff,
// doubling, five tries total.
const remoteRetryAttempts = 5

// withRetry runs fn with exponential backoff for transient remote failures.
// fn returns backoff.Permanent-wrapped errors to stop early.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	return backoff.Retry(fn, backoff.WithContext(
		backoff.WithMaxRetries(policy, remoteRetryAttempts-1), ctx))
}
