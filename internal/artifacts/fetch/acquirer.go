// Package fetch downloads guest artifacts into the content cache.
package fetch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/cochaviz/guestctl/internal/artifacts"
	"github.com/cochaviz/guestctl/internal/build"
	"github.com/cochaviz/guestctl/internal/progress"
)

// MaxRedirects is the number of redirects followed before a download fails.
const MaxRedirects = 10

// ErrTooManyRedirects is wrapped by the FetchError of a download that kept redirecting.
var ErrTooManyRedirects = fmt.Errorf("stopped after %d redirects", MaxRedirects)

var _ build.ArtifactAcquirer = (*Acquirer)(nil)

// Acquirer downloads artifacts into a Store. A file only enters the store
// after its SHA-256 digest matched, so a cache hit is returned without hashing.
type Acquirer struct {
	Store  artifacts.Store
	Client *http.Client
	Logger *slog.Logger
	// Progress receives download progress bars. Nil disables them.
	Progress io.Writer
}

// Ensure returns the cache path of request, downloading and verifying it on a miss.
func (a *Acquirer) Ensure(ctx context.Context, request artifacts.Request) (string, error) {
	if a.Store == nil {
		return "", errors.New("artifact store is not configured")
	}
	if err := artifacts.ValidateChecksum(request.Source.Checksum); err != nil {
		return "", &build.InvariantError{Message: fmt.Sprintf("%s: %v", request.Key, err)}
	}

	logger := a.logger().With("artifact", request.Key.String())

	path, ok, err := a.Store.Lookup(request.Key)
	if err != nil {
		return "", err
	}
	if ok {
		logger.Debug("cache hit", "path", path)
		return path, nil
	}

	body, size, err := a.open(ctx, request.Source.URL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	logger.Info("downloading artifact", "url", request.Source.URL, "size", formatSize(size))
	started := time.Now()

	staged, err := a.Store.Stage(request.Key)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", request.Key, err)
	}
	stagedPath := staged.Name()

	hash := artifacts.NewHash()
	bar := progress.New(a.Progress, size, request.Key.FileName())
	written, copyErr := io.Copy(io.MultiWriter(staged, hash, bar), contextReader{ctx: ctx, r: body})
	bar.Finish()
	closeErr := staged.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", errors.Join(
			&build.FetchError{URL: request.Source.URL, Err: err},
			a.Store.Discard(stagedPath),
		)
	}

	actual := hex.EncodeToString(hash.Sum(nil))
	if !artifacts.ChecksumEqual(actual, request.Source.Checksum) {
		logger.Warn("checksum mismatch", "expected", request.Source.Checksum, "actual", actual)
		return "", errors.Join(
			&build.IntegrityError{URL: request.Source.URL, Expected: request.Source.Checksum, Actual: actual},
			a.Store.Discard(stagedPath),
		)
	}

	path, err = a.Store.Commit(stagedPath, request.Key)
	if err != nil {
		return "", err
	}
	logger.Info("artifact cached",
		"path", path,
		"size", humanize.IBytes(uint64(written)),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return path, nil
}

// EnsureAll acquires requests concurrently. The first failure cancels the
// remaining downloads. Paths are returned in request order.
func (a *Acquirer) EnsureAll(ctx context.Context, requests []artifacts.Request) ([]string, error) {
	paths := make([]string, len(requests))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, request := range requests {
		i, request := i, request
		group.Go(func() error {
			path, err := a.Ensure(groupCtx, request)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// open returns the body and, when known, the length of the resource at rawURL.
func (a *Acquirer) open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, &build.FetchError{URL: rawURL, Err: err}
	}

	switch parsed.Scheme {
	case "file":
		file, err := os.Open(parsed.Path)
		if err != nil {
			return nil, 0, &build.FetchError{URL: rawURL, Err: err}
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, 0, &build.FetchError{URL: rawURL, Err: err}
		}
		return file, info.Size(), nil

	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, 0, &build.FetchError{URL: rawURL, Err: err}
		}
		resp, err := a.client().Do(req)
		if err != nil {
			if errors.Is(err, ErrTooManyRedirects) {
				err = ErrTooManyRedirects
			}
			return nil, 0, &build.FetchError{URL: rawURL, Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, 0, &build.FetchError{URL: rawURL, StatusCode: resp.StatusCode}
		}
		return resp.Body, resp.ContentLength, nil

	default:
		return nil, 0, &build.FetchError{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}
}

// client returns a copy of the configured client that enforces MaxRedirects.
func (a *Acquirer) client() *http.Client {
	client := &http.Client{}
	if a.Client != nil {
		copied := *a.Client
		client = &copied
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) > MaxRedirects {
			return ErrTooManyRedirects
		}
		return nil
	}
	return client
}

func (a *Acquirer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func formatSize(size int64) string {
	if size < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(size))
}

// contextReader stops a copy once ctx is done. HTTP bodies already honour
// the request context; local files do not.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
