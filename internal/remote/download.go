package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aweris/hoard/internal/compression"
	"github.com/aweris/hoard/internal/retry"
	"github.com/aweris/hoard/internal/store"
)

// Downloader performs the HTTP exchange for one request, deciding between
// serving committed bytes, resuming a partial temp file, and a full fresh
// download.
type Downloader struct {
	client *http.Client
	store  *store.Store
	locks  *store.Registry
	log    *logrus.Logger
}

// NewDownloader wires the downloader against its store and lock registry.
func NewDownloader(client *http.Client, st *store.Store, locks *store.Registry, log *logrus.Logger) *Downloader {
	return &Downloader{client: client, store: st, locks: locks, log: log}
}

// Fetch runs the download decision sequence for req and returns the blob
// bytes. Cancellation is observed before every attempt and between chunks;
// a cancelled fetch leaves at most a partial temp file behind.
func (d *Downloader) Fetch(ctx context.Context, req Request, progress ProgressFunc) ([]byte, error) {
	log := d.log.WithFields(logrus.Fields{"url": req.URL, "key": req.Key})
	rawPath := d.store.RawPath(req.Key)

	// 1. Initial exchange, through the retry budget.
	resp, err := d.get(ctx, req, 0, "")

	// 2. Without a 200 in hand, degrade to the committed copy if there is
	// one.
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if req.Cache && d.store.Exists(rawPath) {
			if err != nil {
				log.WithError(err).Warn("request failed, serving stale cached copy")
			} else {
				log.WithField("status", resp.Status).Warn("unexpected status, serving stale cached copy")
			}
			return d.store.ReadRaw(req.Key)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w (status %s)", ErrNoCache, resp.Status)
	}

	// 3.+4. Stream without touching the disk when caching is off or the
	// server forbids storage.
	cc := ParseCacheControl(resp.Header.Get("Cache-Control"))
	if !req.Cache || cc.NoStore() {
		var buf bytes.Buffer
		err := d.drain(ctx, resp, nil, &buf, progress)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	// 5. Validator staleness applies only when the server announces a
	// freshness lifetime.
	stale := false
	if age, ok := cc.MaxAge(); ok {
		validator := resp.Header.Get("ETag") + "_" + resp.Header.Get("Last-Modified")
		stale = d.locks.Check(req.URL, req.Key, validator, age)
	}

	// 6. Fresh enough: serve the committed copy without reading the body.
	if !stale && d.store.Exists(rawPath) && d.withinMaxAge(rawPath, req.MaxAge) {
		resp.Body.Close()
		log.Debug("cache fresh, serving committed copy")
		return d.store.ReadRaw(req.Key)
	}

	// 7. Resume the temp file when the server supports ranges and a prior
	// partial download is still usable.
	tempPath := d.store.TempPath(req.Key)
	mode := store.Overwrite
	var prefix []byte

	if !stale && resp.Header.Get("Accept-Ranges") == "bytes" && resp.ContentLength > 0 {
		if size, serr := d.store.Size(tempPath); serr == nil && size > 0 {
			resp, mode, prefix, err = d.resume(ctx, req, resp, size, log)
			if err != nil {
				if cerr := ctx.Err(); cerr != nil {
					return nil, cerr
				}
				return nil, err
			}
		}
	}

	// 8. Stream into the temp file and commit on completion.
	file, err := d.store.OpenTemp(req.Key, mode)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(prefix)
	err = d.drain(ctx, resp, file, &buf, progress)
	resp.Body.Close()
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	if err := d.store.Commit(req.Key); err != nil {
		return nil, err
	}
	log.WithField("bytes", buf.Len()).Debug("committed download")
	return buf.Bytes(), nil
}

// resume issues the ranged request continuing the temp file at offset and
// returns the response to stream, the temp write mode, and the prefix
// already on disk. The initial response is closed on every path.
func (d *Downloader) resume(ctx context.Context, req Request, initial *http.Response, offset int64, log *logrus.Entry) (*http.Response, store.WriteMode, []byte, error) {
	ifRange := initial.Header.Get("ETag")
	if ifRange == "" {
		ifRange = initial.Header.Get("Last-Modified")
	}

	ranged, err := d.get(ctx, req, offset, ifRange)
	if err != nil {
		initial.Body.Close()
		return nil, store.Overwrite, nil, err
	}

	switch ranged.StatusCode {
	case http.StatusPartialContent:
		// The server honors the resume: keep [0, offset) from disk.
		prefix, rerr := d.store.ReadAll(d.store.TempPath(req.Key))
		if rerr != nil {
			ranged.Body.Close()
			initial.Body.Close()
			return nil, store.Overwrite, nil, fmt.Errorf("failed to read temp file: %w", rerr)
		}
		initial.Body.Close()
		log.WithField("offset", offset).Debug("resuming partial download")
		return ranged, store.Append, prefix, nil

	case http.StatusRequestedRangeNotSatisfiable:
		// The stored prefix no longer matches the representation.
		// Restart from zero with a fresh request; the initial response
		// body is not assumed to still be readable.
		ranged.Body.Close()
		initial.Body.Close()
		log.Debug("resume rejected, restarting download")
		fresh, ferr := d.get(ctx, req, 0, "")
		if ferr != nil {
			return nil, store.Overwrite, nil, ferr
		}
		if fresh.StatusCode != http.StatusOK {
			fresh.Body.Close()
			return nil, store.Overwrite, nil, fmt.Errorf("%w (status %s)", ErrNoCache, fresh.Status)
		}
		return fresh, store.Overwrite, nil, nil

	case http.StatusOK:
		// Range ignored; this is already the full body.
		initial.Body.Close()
		return ranged, store.Overwrite, nil, nil

	default:
		ranged.Body.Close()
		initial.Body.Close()
		return nil, store.Overwrite, nil, fmt.Errorf("unexpected status %s resuming download", ranged.Status)
	}
}

// drain decodes resp's body into buf, and into file when persisting,
// reporting cumulative progress after each chunk. buf may be pre-seeded
// with a resumed prefix; the counter starts at its length.
func (d *Downloader) drain(ctx context.Context, resp *http.Response, file *os.File, buf *bytes.Buffer, progress ProgressFunc) error {
	offset := int64(buf.Len())
	encoding := resp.Header.Get("Content-Encoding")

	// Content-Length counts encoded bytes, so the expected total is only
	// meaningful for identity responses.
	total := int64(-1)
	if (encoding == "" || strings.EqualFold(encoding, "identity")) && resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	body, err := compression.Reader(resp.Body, encoding)
	if err != nil {
		return err
	}
	defer body.Close()

	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := body.Read(chunk)
		if n > 0 {
			if file != nil {
				if _, werr := file.Write(chunk[:n]); werr != nil {
					return fmt.Errorf("failed to write temp file: %w", werr)
				}
			}
			buf.Write(chunk[:n])
			if progress != nil {
				progress(int64(buf.Len()), total)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("failed to read body: %w", rerr)
		}
	}
}

// get issues one GET through the retry budget. rangeFrom > 0 turns it into
// a resume request addressed at the stored representation.
func (d *Downloader) get(ctx context.Context, req Request, rangeFrom int64, ifRange string) (*http.Response, error) {
	cfg := retry.Config{Retries: req.Retries, Delay: req.RetryDelay}
	return retry.Do(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
		return d.roundTrip(ctx, req, rangeFrom, ifRange)
	})
}

// roundTrip performs a single attempt. The per-attempt timeout stays armed
// until the response body is closed.
func (d *Downloader) roundTrip(ctx context.Context, req Request, rangeFrom int64, ifRange string) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if rangeFrom > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeFrom))
		if ifRange != "" {
			httpReq.Header.Set("If-Range", ifRange)
		}
		// Resume offsets address the stored bytes, so the ranged
		// request must not be transport-encoded.
		httpReq.Header.Set("Accept-Encoding", "identity")
	} else if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", compression.AcceptEncoding)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &attemptBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// withinMaxAge reports whether the committed file is younger than the
// request's explicit age bound. No bound means always fresh.
func (d *Downloader) withinMaxAge(rawPath string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return true
	}
	mtime, err := d.store.LastModified(rawPath)
	if err != nil {
		return false
	}
	return time.Since(mtime) <= maxAge
}

// attemptBody releases the attempt's timeout when the body is closed.
type attemptBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *attemptBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
