package hoard

import (
	"errors"
	"fmt"

	"github.com/aweris/hoard/internal/remote"
)

var (
	// ErrNoCache reports that the server returned no usable response
	// and no committed copy was available to fall back on.
	ErrNoCache = remote.ErrNoCache

	// ErrNotFound reports that no on-disk artifact exists for the entry.
	ErrNotFound = errors.New("hoard: entry not found")
)

// FetchError wraps a failed download with the URL it was for.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError wraps a decoder hook failure with the URL it was for.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
