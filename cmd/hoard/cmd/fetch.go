package cmd

import (
	"context"
	"fmt"
	neturl "net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aweris/hoard"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>...",
	Short: "Download blobs through the cache",
	Long:  "Download one or more URLs through the local cache, resuming partial transfers and reusing fresh copies.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringP("output", "o", ".", "directory to write fetched blobs into")
	fetchCmd.Flags().String("key", "", "cache key override (single URL only)")
	fetchCmd.Flags().Bool("no-cache", false, "bypass the cache entirely")
	fetchCmd.Flags().Duration("max-age", 0, "reuse a committed copy younger than this without re-downloading")
	fetchCmd.Flags().Duration("timeout", 0, "per-attempt timeout")
	fetchCmd.Flags().Int("retries", hoard.DefaultRetries, "retry attempts after a failed request")
	fetchCmd.Flags().Duration("retry-delay", hoard.DefaultRetryDelay, "delay between retry attempts")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("output")
	key, _ := cmd.Flags().GetString("key")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	maxAge, _ := cmd.Flags().GetDuration("max-age")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	retries, _ := cmd.Flags().GetInt("retries")
	retryDelay, _ := cmd.Flags().GetDuration("retry-delay")

	if key != "" && len(args) > 1 {
		return fmt.Errorf("--key applies to a single URL, got %d", len(args))
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f, err := openFetcher()
	if err != nil {
		return err
	}

	reqs := make([]hoard.Request, len(args))
	for i, url := range args {
		req := hoard.NewRequest(url)
		req.CacheKey = key
		req.Cache = !noCache
		req.MaxAge = maxAge
		req.Timeout = timeout
		req.Retries = retries
		req.RetryDelay = retryDelay
		reqs[i] = req
	}

	if len(reqs) == 1 {
		events := 0
		data, err := f.Fetch(context.Background(), reqs[0], func(ev hoard.ProgressEvent) {
			events++
			if ev.Total > 0 {
				fmt.Fprintf(os.Stderr, "\r%d/%d bytes", ev.Loaded, ev.Total)
			} else {
				fmt.Fprintf(os.Stderr, "\r%d bytes", ev.Loaded)
			}
		})
		if events > 0 {
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			return err
		}
		return writeBlob(outDir, reqs[0], data)
	}

	fmt.Fprintf(os.Stderr, "Fetching %d blobs...\n", len(reqs))
	results, err := f.FetchAll(context.Background(), reqs)
	if err != nil {
		return err
	}
	for i, data := range results {
		if err := writeBlob(outDir, reqs[i], data); err != nil {
			return err
		}
	}
	return nil
}

func writeBlob(dir string, req hoard.Request, data []byte) error {
	out := filepath.Join(dir, blobFileName(req))
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "%s -> %s (%d bytes)\n", req.URL, out, len(data))
	return nil
}

// blobFileName picks the output name: the URL's last path segment, else
// the cache key.
func blobFileName(req hoard.Request) string {
	if u, err := neturl.Parse(req.URL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return req.Key()
}
