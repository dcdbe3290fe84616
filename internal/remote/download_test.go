package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/hoard/internal/store"
)

type event struct {
	loaded, total int64
}

func newTestDownloader(t *testing.T, client *http.Client) (*store.Store, *Downloader) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return st, NewDownloader(client, st, store.NewRegistry(st, log), log)
}

func testRequest(url string) Request {
	return Request{
		URL:        url,
		Key:        "k",
		Cache:      true,
		Retries:    1,
		RetryDelay: time.Millisecond,
	}
}

func checkDeltas(t *testing.T, events []event, want int64) {
	t.Helper()
	var sum, prev int64
	for _, e := range events {
		require.GreaterOrEqual(t, e.loaded, prev, "progress must be non-decreasing")
		sum += e.loaded - prev
		prev = e.loaded
	}
	assert.Equal(t, want, sum, "progress deltas must sum to the downloaded size")
}

func TestFetchFullDownload(t *testing.T) {
	t.Parallel()

	body := []byte("hello world")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	var events []event
	got, err := d.Fetch(context.Background(), testRequest(srv.URL), func(loaded, total int64) {
		events = append(events, event{loaded, total})
	})
	require.NoError(t, err)
	assert.Equal(t, body, got)

	committed, err := st.ReadAll(st.RawPath("k"))
	require.NoError(t, err)
	assert.Equal(t, body, committed)
	assert.False(t, st.Exists(st.TempPath("k")))

	require.NotEmpty(t, events)
	checkDeltas(t, events, int64(len(body)))
	assert.Equal(t, int64(len(body)), events[len(events)-1].total)
}

func TestFetchCacheDisabledWritesNothing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("transient"))
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	req := testRequest(srv.URL)
	req.Cache = false
	got, err := d.Fetch(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "transient", string(got))

	assert.False(t, st.Exists(st.RawPath("k")))
	assert.False(t, st.Exists(st.TempPath("k")))
	assert.False(t, st.Exists(st.LockPath("k")))
}

func TestFetchNoStoreDownloadsEveryTime(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "no-store")
		w.Write([]byte("volatile"))
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	for i := 0; i < 2; i++ {
		got, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
		require.NoError(t, err)
		assert.Equal(t, "volatile", string(got))
	}

	assert.Equal(t, int32(2), hits.Load())
	assert.False(t, st.Exists(st.RawPath("k")))
	assert.False(t, st.Exists(st.TempPath("k")))
}

func TestFetchFreshCacheSkipsBody(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("ETag", `"v1"`)
		if n == 1 {
			w.Write([]byte("first"))
		} else {
			w.Write([]byte("second"))
		}
	}))
	defer srv.Close()

	_, d := newTestDownloader(t, srv.Client())

	got, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	// The second response carries a different body; serving "first"
	// proves the committed copy was used without reading the body.
	got, err = d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchValidatorChangeForcesRedownload(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=3600")
		if n == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Write([]byte("first"))
		} else {
			w.Header().Set("ETag", `"v2"`)
			w.Write([]byte("second"))
		}
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	got, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	got, err = d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	committed, err := st.ReadAll(st.RawPath("k"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(committed))
}

func TestFetchStaleFallbackOnErrorStatus(t *testing.T) {
	t.Parallel()

	var broken atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("good data"))
	}))
	defer srv.Close()

	_, d := newTestDownloader(t, srv.Client())

	got, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "good data", string(got))

	broken.Store(true)
	got, err = d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "good data", string(got))
}

func TestFetchStaleFallbackOnTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("survivor"))
	}))

	_, d := newTestDownloader(t, srv.Client())

	got, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "survivor", string(got))

	srv.Close()
	got, err = d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "survivor", string(got))
}

func TestFetchNoCacheAvailable(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, d := newTestDownloader(t, srv.Client())

	_, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.ErrorIs(t, err, ErrNoCache)
	// Error statuses are responses, not transport failures: no retries.
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchResume(t *testing.T) {
	t.Parallel()

	full := []byte("hello world")
	var rangeSeen, ifRangeSeen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "" {
			rangeSeen.Store(rng)
			ifRangeSeen.Store(r.Header.Get("If-Range"))
			w.Header().Set("Content-Range", "bytes 5-10/11")
			w.Header().Set("Content-Length", "6")
			w.WriteHeader(http.StatusPartialContent)
			w.Write(full[5:])
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"stable"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(full)))
		w.Write(full)
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	// A prior interrupted download left the first five bytes behind.
	require.NoError(t, os.WriteFile(st.TempPath("k"), full[:5], 0644))

	var events []event
	got, err := d.Fetch(context.Background(), testRequest(srv.URL), func(loaded, total int64) {
		events = append(events, event{loaded, total})
	})
	require.NoError(t, err)
	assert.Equal(t, full, got)

	assert.Equal(t, "bytes=5-", rangeSeen.Load())
	assert.Equal(t, `"stable"`, ifRangeSeen.Load())

	committed, err := st.ReadAll(st.RawPath("k"))
	require.NoError(t, err)
	assert.Equal(t, full, committed)
	assert.False(t, st.Exists(st.TempPath("k")))

	// Progress starts past the on-disk offset and counts up to the full
	// size.
	require.NotEmpty(t, events)
	assert.Greater(t, events[0].loaded, int64(5))
	assert.Equal(t, int64(len(full)), events[len(events)-1].loaded)
	assert.Equal(t, int64(len(full)), events[0].total)
	checkDeltas(t, events, int64(len(full)))
}

func TestFetchResumeRejectedRestartsFresh(t *testing.T) {
	t.Parallel()

	fresh := []byte("entirely new content")
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(fresh)))
		w.Write(fresh)
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	require.NoError(t, os.WriteFile(st.TempPath("k"), []byte("obsolete prefix"), 0644))

	got, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	committed, err := st.ReadAll(st.RawPath("k"))
	require.NoError(t, err)
	assert.Equal(t, fresh, committed)
	assert.False(t, st.Exists(st.TempPath("k")))

	// Initial GET, rejected ranged GET, fresh restart.
	assert.Equal(t, int32(3), requests.Load())
}

func TestFetchResumeRangeIgnored(t *testing.T) {
	t.Parallel()

	full := []byte("complete body served twice")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Pretend to support ranges but always serve the whole body.
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(full)))
		w.Write(full)
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	require.NoError(t, os.WriteFile(st.TempPath("k"), []byte("old"), 0644))

	got, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, full, got)

	committed, err := st.ReadAll(st.RawPath("k"))
	require.NoError(t, err)
	assert.Equal(t, full, committed)
}

func TestFetchResumeUnexpectedStatusFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "4")
		w.Write([]byte("full"))
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	require.NoError(t, os.WriteFile(st.TempPath("k"), []byte("xx"), 0644))

	_, err := d.Fetch(context.Background(), testRequest(srv.URL), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resuming download")
	assert.False(t, st.Exists(st.RawPath("k")))
}

func TestFetchGzipBodyCountsDecodedBytes(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("decoded payload "), 64)
	var encoded bytes.Buffer
	zw := gzip.NewWriter(&encoded)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.Itoa(encoded.Len()))
		w.Write(encoded.Bytes())
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	var events []event
	got, err := d.Fetch(context.Background(), testRequest(srv.URL), func(loaded, total int64) {
		events = append(events, event{loaded, total})
	})
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The committed file holds decoded bytes and progress counted them.
	committed, err := st.ReadAll(st.RawPath("k"))
	require.NoError(t, err)
	assert.Equal(t, payload, committed)

	require.NotEmpty(t, events)
	assert.Equal(t, int64(len(payload)), events[len(events)-1].loaded)
	for _, e := range events {
		assert.Equal(t, int64(-1), e.total, "encoded responses have no known decoded size")
	}
}

func TestFetchPreCancelledMakesNoRequests(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, d := newTestDownloader(t, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Fetch(ctx, testRequest(srv.URL), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetchCancelMidStreamLeavesTempOnly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("head"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	st, d := newTestDownloader(t, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := d.Fetch(ctx, testRequest(srv.URL), func(loaded, total int64) {
		cancel()
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)

	// A partial temp file may remain; a raw file must not.
	assert.False(t, st.Exists(st.RawPath("k")))
	assert.True(t, st.Exists(st.TempPath("k")))
}

func TestFetchPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, d := newTestDownloader(t, srv.Client())

	req := testRequest(srv.URL)
	req.Timeout = 50 * time.Millisecond
	_, err := d.Fetch(context.Background(), req, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// Each attempt gets its own window before the budget runs out.
	assert.Equal(t, int32(2), hits.Load())
}
