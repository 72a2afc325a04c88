package storage

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	gopath "path"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

// httpClient is shared by all azure Locations to reuse TCP connections
// across concurrent tile fetches. No client timeout: blob downloads can be
// large, cancellation comes from the request context.
var httpClient = &http.Client{}

// azureLocation is the remote variant: a container path plus a SAS token.
// The token grants access; it is carried separately from the rendered URI so
// it never reaches the logs.
type azureLocation struct {
	// endpoint is scheme://host of the blob service.
	endpoint *url.URL

	// container is the first path segment of the parsed URI.
	container string

	// prefix is the blob path under the container, possibly empty.
	prefix string

	// sas is the raw SAS token query string. Never logged.
	sas string
}

// parseAzureLocation parses the https URL embedded in an azure:// URI.
// The SAS token query is mandatory: a remote Location without a credential
// is malformed.
func parseAzureLocation(raw string) (*azureLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, engine.NewPermanentError("malformed remote URI", err).
			WithCode(engine.ErrCodeInvalidLocation)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, engine.NewPermanentError("remote URI must embed an http(s) URL", nil).
			WithCode(engine.ErrCodeInvalidLocation)
	}
	if u.RawQuery == "" {
		return nil, engine.NewPermanentError("remote URI is missing its SAS token", nil).
			WithCode(engine.ErrCodeInvalidLocation)
	}

	segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if segments[0] == "" {
		return nil, engine.NewPermanentError("remote URI is missing a container", nil).
			WithCode(engine.ErrCodeInvalidLocation)
	}

	loc := &azureLocation{
		endpoint:  &url.URL{Scheme: u.Scheme, Host: u.Host},
		container: segments[0],
		sas:       u.RawQuery,
	}
	if len(segments) == 2 {
		loc.prefix = segments[1]
	}
	return loc, nil
}

func (l *azureLocation) Scheme() Scheme {
	return SchemeAzure
}

// String renders the Location without its SAS token.
func (l *azureLocation) String() string {
	return fmt.Sprintf("azure://%s/%s", l.endpoint.String()+"/"+l.container, l.prefix)
}

func (l *azureLocation) Navigate(parts ...string) Location {
	return &azureLocation{
		endpoint:  l.endpoint,
		container: l.container,
		prefix:    gopath.Join(append([]string{l.prefix}, parts...)...),
		sas:       l.sas,
	}
}

// blobURL builds the authenticated URL for the blob this Location points at.
func (l *azureLocation) blobURL() string {
	u := *l.endpoint
	u.Path = gopath.Join("/", l.container, l.prefix)
	u.RawQuery = l.sas
	return u.String()
}

// containerURL builds the authenticated container URL with extra query
// parameters, used by the list operation.
func (l *azureLocation) containerURL(params url.Values) string {
	u := *l.endpoint
	u.Path = gopath.Join("/", l.container)
	q, _ := url.ParseQuery(l.sas)
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// listResponse mirrors the blob service's List Blobs XML body.
type listResponse struct {
	XMLName xml.Name `xml:"EnumerationResults"`
	Blobs   struct {
		Blob []struct {
			Name       string `xml:"Name"`
			Properties struct {
				ContentLength int64 `xml:"Content-Length"`
			} `xml:"Properties"`
		} `xml:"Blob"`
	} `xml:"Blobs"`
	NextMarker string `xml:"NextMarker"`
}

func (l *azureLocation) List(ctx context.Context, pattern *regexp.Regexp) ([]Entry, error) {
	prefix := l.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var entries []Entry
	marker := ""
	for {
		params := url.Values{
			"restype":   {"container"},
			"comp":      {"list"},
			"delimiter": {"/"},
		}
		if prefix != "" {
			params.Set("prefix", prefix)
		}
		if marker != "" {
			params.Set("marker", marker)
		}

		var page listResponse
		err := withRetry(ctx, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.containerURL(params), nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if err := checkBlobResponse(resp); err != nil {
				return err
			}
			page = listResponse{}
			return xml.NewDecoder(resp.Body).Decode(&page)
		})
		if err != nil {
			return nil, remoteError("failed to list remote objects", err).
				WithCode(engine.ErrCodeFetchFailed).
				WithOperation("list " + l.String())
		}

		for _, blob := range page.Blobs.Blob {
			rel := strings.TrimPrefix(blob.Name, prefix)
			if rel == "" || strings.Contains(rel, "/") {
				continue
			}
			if pattern != nil && !pattern.MatchString(rel) {
				continue
			}
			entries = append(entries, Entry{
				Name: rel,
				Path: rel,
				Size: blob.Properties.ContentLength,
			})
		}

		marker = page.NextMarker
		if marker == "" {
			return entries, nil
		}
	}
}

func (l *azureLocation) FetchTo(ctx context.Context, localPath string) error {
	err := withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.blobURL(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkBlobResponse(resp); err != nil {
			return err
		}

		out, err := os.Create(localPath)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			_ = out.Close()
			_ = os.Remove(localPath)
			return err
		}
		return out.Close()
	})
	if err != nil {
		return remoteError("failed to fetch remote object", err).
			WithCode(engine.ErrCodeFetchFailed).
			WithOperation("fetch " + l.String())
	}
	return nil
}

func (l *azureLocation) FetchRange(ctx context.Context, offset, length int64) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.blobURL(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkBlobResponse(resp); err != nil {
			return err
		}
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, remoteError("failed to fetch remote object range", err).
			WithCode(engine.ErrCodeFetchFailed).
			WithOperation("fetch-range " + l.String())
	}
	return data, nil
}

func (l *azureLocation) PublishFrom(ctx context.Context, localPath string) error {
	err := withRetry(ctx, func() error {
		// Reopen per attempt so a retried upload starts from the beginning.
		f, err := os.Open(localPath)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, l.blobURL(), f)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("x-ms-blob-type", "BlockBlob")
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = info.Size()

		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return checkBlobResponse(resp)
	})
	if err != nil {
		return remoteError("failed to publish to remote destination", err).
			WithCode(engine.ErrCodePublishFailed).
			WithOperation("publish " + l.String())
	}
	return nil
}

func (l *azureLocation) Exists(ctx context.Context) (bool, error) {
	exists := false
	err := withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, l.blobURL(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusOK:
			exists = true
			return nil
		case resp.StatusCode == http.StatusNotFound:
			exists = false
			return nil
		default:
			return checkBlobResponse(resp)
		}
	})
	if err != nil {
		return false, remoteError("failed to check remote object", err).
			WithCode(engine.ErrCodeFetchFailed).
			WithOperation("exists " + l.String())
	}
	return exists, nil
}

// blobStatusError is a non-2xx blob service response. It keeps the status
// so the final error wrap can tell a dead 404 from an exhausted 503 loop.
type blobStatusError struct {
	status int
}

func (e *blobStatusError) Error() string {
	return fmt.Sprintf("blob service returned status %d", e.status)
}

// retryable reports whether the status is worth another attempt.
func (e *blobStatusError) retryable() bool {
	return e.status >= 500 ||
		e.status == http.StatusTooManyRequests ||
		e.status == http.StatusRequestTimeout
}

// checkBlobResponse converts non-2xx blob service responses into errors.
// Server-side and throttling statuses stay retryable, every other client
// error aborts the backoff loop.
func checkBlobResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := &blobStatusError{status: resp.StatusCode}
	if err.retryable() {
		return err
	}
	return backoff.Permanent(err)
}

// remoteError wraps a failed remote operation. A loop that ended on a
// client-side status such as 404 yields a permanent error; everything else,
// network failures and exhausted server-side retries included, stays
// transient.
func remoteError(message string, cause error) *engine.RunError {
	var status *blobStatusError
	if errors.As(cause, &status) && !status.retryable() {
		return engine.NewPermanentError(message, cause)
	}
	return engine.NewTransientError(message, cause)
}
