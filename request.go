package hoard

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Request describes one blob to fetch.
type Request struct {
	// URL is the remote location of the blob.
	URL string

	// Headers are sent verbatim with every attempt.
	Headers map[string]string

	// Cache controls whether the response is persisted. When false the
	// blob is streamed to the caller only.
	Cache bool

	// CacheKey names the on-disk entry. Empty derives a digest from URL.
	CacheKey string

	// Retries is the number of extra attempts after a failed one.
	Retries int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration

	// Timeout bounds a single attempt through the end of its body.
	// Zero means no per-attempt bound.
	Timeout time.Duration

	// MaxAge caps how long a committed copy may be served without
	// re-reading the body. Zero means no age bound.
	MaxAge time.Duration
}

// NewRequest returns a Request for url with caching enabled and the
// default retry budget.
func NewRequest(url string) Request {
	return Request{
		URL:        url,
		Cache:      true,
		Retries:    DefaultRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// Key returns the on-disk entry name, deriving one from the URL when
// CacheKey is unset.
func (r Request) Key() string {
	if r.CacheKey != "" {
		return r.CacheKey
	}
	return digest.FromString(r.URL).Encoded()
}

// ProgressEvent reports cumulative download progress.
type ProgressEvent struct {
	// Loaded is the number of bytes received so far, after any
	// content-encoding decode.
	Loaded int64

	// Total is the expected final size, or -1 when unknown.
	Total int64
}

// ProgressFunc receives a ProgressEvent after each chunk. May be nil.
type ProgressFunc func(ProgressEvent)

// EntryInfo describes the on-disk state of one cache entry.
type EntryInfo struct {
	Key       string
	Committed bool      // a committed copy exists
	Size      int64     // committed copy size
	ModTime   time.Time // committed copy mtime
	TempSize  int64     // pending partial download size, 0 if none
	CheckedAt time.Time // last freshness check, zero if never checked
	Validator string    // validator recorded at the last check
}
