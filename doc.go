// Package hoard downloads HTTP blobs through a disk-backed cache with
// resumable transfers.
//
// Each fetched URL is stored under a cache key as a committed file with
// a sidecar freshness record. Interrupted downloads leave a partial
// temp file that later fetches resume with a ranged request; committed
// files only ever appear through an atomic rename.
//
// Basic usage:
//
//	f, _ := hoard.Open()
//
//	// Fetch a blob (cached after the first call)
//	data, _ := f.Fetch(ctx, hoard.NewRequest("https://example.com/layer.bin"), nil)
//
//	// Watch download progress
//	data, _ = f.Fetch(ctx, req, func(ev hoard.ProgressEvent) {
//	    fmt.Printf("%d/%d\n", ev.Loaded, ev.Total)
//	})
//
//	// Inspect and clean up an entry
//	info, _ := f.Stat(req)
//	fmt.Println(info.Size, info.Committed)
//	f.Remove(req)
//
// Freshness follows the server's Cache-Control response header: within
// an announced max-age, a fetch whose validators are unchanged returns
// the committed bytes without reading the response body, and no-store
// responses are never written to disk. A request with Cache disabled
// streams straight to the caller.
//
// With a custom location and logging:
//
//	f, _ := hoard.Open(
//	    hoard.WithCacheDir("/var/cache/hoard"),
//	    hoard.WithLogger(log),
//	)
package hoard
