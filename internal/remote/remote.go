// Package remote implements the HTTP download path of the cache.
//
// The downloader owns the full exchange for one request:
// - initial GET through the retry budget
// - cache-control and validator interpretation
// - range-resume of partial temp files
// - streaming with content-encoding decoding and progress reporting
package remote

import (
	"errors"
	"time"
)

// ErrNoCache reports that the server returned no usable response and no
// committed copy was available to fall back on.
var ErrNoCache = errors.New("hoard: no cached copy available")

// Request carries one download's parameters.
type Request struct {
	URL        string
	Key        string
	Headers    map[string]string
	Cache      bool
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
	MaxAge     time.Duration
}

// ProgressFunc receives the cumulative decoded byte count after each
// chunk, with the expected final size or -1 when unknown.
type ProgressFunc func(loaded, total int64)
