package hoard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/hoard/internal/remote"
	"github.com/aweris/hoard/internal/store"
)

// Fetcher downloads blobs over HTTP through a disk-backed cache.
type Fetcher interface {
	// Fetch returns the blob for req, served from cache or network per
	// the request's cache settings. progress may be nil.
	Fetch(ctx context.Context, req Request, progress ProgressFunc) ([]byte, error)

	// FetchRaw is Fetch without the configured decoder applied.
	FetchRaw(ctx context.Context, req Request, progress ProgressFunc) ([]byte, error)

	// FetchAll fetches all requests in parallel. Results align with
	// reqs; on any failure the partial results are discarded.
	FetchAll(ctx context.Context, reqs []Request) ([][]byte, error)

	// Invalidate drops the freshness record for req's URL and notifies
	// the invalidation hook. Cached bytes stay on disk.
	Invalidate(req Request)

	// Stat reports the on-disk state of req's cache entry.
	Stat(req Request) (EntryInfo, error)

	// Remove deletes all on-disk artifacts of req's cache entry.
	Remove(req Request) error
}

// Cache is the disk-backed Fetcher implementation.
type Cache struct {
	store        *store.Store
	locks        *store.Registry
	download     *remote.Downloader
	log          *logrus.Logger
	decoder      Decoder
	onInvalidate InvalidateFunc
	concurrency  int
}

// Open creates or opens a cache rooted at the configured directory.
func Open(opts ...OpenOption) (Fetcher, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	st, err := store.New(expandPath(options.CacheDir))
	if err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	locks := store.NewRegistry(st, options.Logger)

	return &Cache{
		store:        st,
		locks:        locks,
		download:     remote.NewDownloader(options.Client, st, locks, options.Logger),
		log:          options.Logger,
		decoder:      options.Decoder,
		onInvalidate: options.OnInvalidate,
		concurrency:  options.Concurrency,
	}, nil
}

func (c *Cache) Fetch(ctx context.Context, req Request, progress ProgressFunc) ([]byte, error) {
	data, err := c.fetch(ctx, req, progress)
	if err != nil {
		return nil, err
	}

	if c.decoder != nil {
		decoded, err := c.decoder(req.URL, data)
		if err != nil {
			return nil, &DecodeError{URL: req.URL, Err: err}
		}
		data = decoded
	}

	return data, nil
}

func (c *Cache) FetchRaw(ctx context.Context, req Request, progress ProgressFunc) ([]byte, error) {
	return c.fetch(ctx, req, progress)
}

func (c *Cache) fetch(ctx context.Context, req Request, progress ProgressFunc) ([]byte, error) {
	log := c.log.WithFields(logrus.Fields{
		"fetch_id": uuid.NewString()[:8],
		"url":      req.URL,
	})
	log.Debug("fetch started")

	var fn remote.ProgressFunc
	if progress != nil {
		fn = func(loaded, total int64) {
			progress(ProgressEvent{Loaded: loaded, Total: total})
		}
	}

	data, err := c.download.Fetch(ctx, downloadRequest(req), fn)
	if err != nil {
		log.WithError(err).Debug("fetch failed")
		return nil, &FetchError{URL: req.URL, Err: err}
	}

	log.WithField("bytes", len(data)).Debug("fetch complete")
	return data, nil
}

func (c *Cache) FetchAll(ctx context.Context, reqs []Request) ([][]byte, error) {
	results := make([][]byte, len(reqs))

	p := pool.New().WithMaxGoroutines(c.concurrency).WithContext(ctx).WithCancelOnError()

	for i, req := range reqs {
		i, req := i, req
		p.Go(func(ctx context.Context) error {
			data, err := c.Fetch(ctx, req, nil)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Cache) Invalidate(req Request) {
	c.locks.Forget(req.URL)
	if c.onInvalidate != nil {
		c.onInvalidate(req.URL)
	}
	c.log.WithField("url", req.URL).Debug("invalidated freshness record")
}

func (c *Cache) Stat(req Request) (EntryInfo, error) {
	key := req.Key()
	info := EntryInfo{Key: key}

	if fi, err := os.Stat(c.store.RawPath(key)); err == nil {
		info.Committed = true
		info.Size = fi.Size()
		info.ModTime = fi.ModTime()
	} else if !os.IsNotExist(err) {
		return EntryInfo{}, err
	}

	if fi, err := os.Stat(c.store.TempPath(key)); err == nil {
		info.TempSize = fi.Size()
	}

	rec, checked := c.locks.Peek(req.URL, key)
	if checked {
		info.CheckedAt = rec.CheckedAt
		info.Validator = rec.Validator
	}

	if !info.Committed && info.TempSize == 0 && !checked {
		return EntryInfo{}, ErrNotFound
	}
	return info, nil
}

func (c *Cache) Remove(req Request) error {
	c.locks.Forget(req.URL)
	c.locks.Flush()
	return c.store.Remove(req.Key())
}

// downloadRequest maps the public request onto the downloader's.
func downloadRequest(req Request) remote.Request {
	return remote.Request{
		URL:        req.URL,
		Key:        req.Key(),
		Headers:    req.Headers,
		Cache:      req.Cache,
		Retries:    req.Retries,
		RetryDelay: req.RetryDelay,
		Timeout:    req.Timeout,
		MaxAge:     req.MaxAge,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
