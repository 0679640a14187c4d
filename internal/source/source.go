// Package source resolves a document URI to a local copy in the cache
// directory the renderer reads from.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/taylorskalyo/goreader/epub"
)

// ErrUnsupportedScheme is returned for URIs that are neither files nor
// http(s) URLs.
var ErrUnsupportedScheme = errors.New("unsupported uri scheme")

// Loader copies sources into a cache directory.
//
// Local files are copied on every Load so edits to the source are picked
// up. Remote documents are downloaded once and then served from the cache.
type Loader struct {
	cacheDir   string
	client     *http.Client
	attempts   uint
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithRetry sets the download attempt count and the initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(l *Loader) {
		l.attempts = attempts
		l.retryDelay = delay
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader writing into cacheDir.
func NewLoader(cacheDir string, opts ...Option) *Loader {
	l := &Loader{
		cacheDir:   cacheDir,
		client:     &http.Client{Timeout: 60 * time.Second},
		attempts:   3,
		retryDelay: time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.attempts == 0 {
		l.attempts = 1
	}
	return l
}

// Load resolves uri with a default Loader.
func Load(ctx context.Context, uri, cacheDir string) (string, error) {
	return NewLoader(cacheDir).Load(ctx, uri)
}

// Load copies the document at uri into the cache and returns the cached
// path. It satisfies session.Loader.
func (l *Loader) Load(ctx context.Context, uri string) (string, error) {
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return l.copyFile(uri, uri)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return l.copyFile(uri, u.Path)
	case "http", "https":
		return l.download(ctx, uri, u)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// CachePath is where uri is cached: a hash of the uri plus the source's
// extension (".epub" when it has none).
func (l *Loader) CachePath(uri string) string {
	sum := sha256.Sum256([]byte(uri))

	ext := ".epub"
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	} else if e := filepath.Ext(uri); e != "" {
		ext = e
	}
	return filepath.Join(l.cacheDir, hex.EncodeToString(sum[:8])+ext)
}

func (l *Loader) copyFile(uri, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	dst := l.CachePath(uri)
	if err := writeAtomic(dst, in); err != nil {
		return "", err
	}
	l.logger.Debug("source cached", "uri", uri, "path", dst)
	return dst, nil
}

type statusError struct {
	StatusCode int
	URL        string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
}

func (l *Loader) download(ctx context.Context, uri string, u *url.URL) (string, error) {
	dst := l.CachePath(uri)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			resp, err := l.client.Do(req)
			if err != nil {
				return fmt.Errorf("download %s: %w", uri, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				statusErr := &statusError{StatusCode: resp.StatusCode, URL: uri}
				if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
					return statusErr
				}
				return retry.Unrecoverable(statusErr)
			}
			return writeAtomic(dst, resp.Body)
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Warn("download failed, retrying", "uri", uri, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return "", err
	}
	l.logger.Debug("source downloaded", "uri", uri, "path", dst)
	return dst, nil
}

// writeAtomic streams r into a temp file next to dst and renames it over
// dst, so readers never see a partial copy.
func writeAtomic(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".lectern-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("copy source: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("move into cache: %w", err)
	}
	return nil
}

// Title reads the title from an EPUB's package metadata, falling back to
// the file name without extension.
func Title(path string) (string, error) {
	rc, err := epub.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) > 0 {
		if t := strings.TrimSpace(rc.Rootfiles[0].Title); t != "" {
			return t, nil
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}
