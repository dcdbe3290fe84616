package hoard

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Default request knobs applied by NewRequest.
const (
	DefaultRetries    = 3
	DefaultRetryDelay = 100 * time.Millisecond
)

// DefaultConcurrency bounds parallel downloads in FetchAll.
const DefaultConcurrency = 4

// Decoder transforms fetched bytes before they are returned, e.g. to
// decrypt or unpack an application-level envelope. It runs after the
// blob is committed; the cache always holds the wire form.
type Decoder func(url string, data []byte) ([]byte, error)

// InvalidateFunc is notified when an entry's freshness record is
// dropped, so callers can purge derived results keyed on the URL.
type InvalidateFunc func(url string)

// OpenOptions configures a cache.
type OpenOptions struct {
	CacheDir     string
	Client       *http.Client
	Logger       *logrus.Logger
	Decoder      Decoder
	OnInvalidate InvalidateFunc
	Concurrency  int
}

// OpenOption is a functional option for configuring Open.
type OpenOption func(*OpenOptions)

func defaultOptions() *OpenOptions {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &OpenOptions{
		CacheDir:    defaultCacheDir(),
		Client:      http.DefaultClient,
		Logger:      log,
		Concurrency: DefaultConcurrency,
	}
}

// WithCacheDir sets the directory holding cached blobs.
func WithCacheDir(dir string) OpenOption {
	return func(o *OpenOptions) { o.CacheDir = dir }
}

// WithHTTPClient sets the client used for all requests.
func WithHTTPClient(client *http.Client) OpenOption {
	return func(o *OpenOptions) {
		if client != nil {
			o.Client = client
		}
	}
}

// WithLogger routes internal logging to the given logger. By default
// logging is discarded.
func WithLogger(log *logrus.Logger) OpenOption {
	return func(o *OpenOptions) {
		if log != nil {
			o.Logger = log
		}
	}
}

// WithDecoder installs a post-fetch transform on returned bytes.
func WithDecoder(dec Decoder) OpenOption {
	return func(o *OpenOptions) { o.Decoder = dec }
}

// WithOnInvalidate registers a hook called by Invalidate.
func WithOnInvalidate(fn InvalidateFunc) OpenOption {
	return func(o *OpenOptions) { o.OnInvalidate = fn }
}

// WithConcurrency sets the number of parallel downloads for FetchAll.
func WithConcurrency(n int) OpenOption {
	return func(o *OpenOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

func defaultCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "hoard")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "hoard")
	}
	return ".hoard"
}
