package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/hoard"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <url>...",
	Short: "Drop freshness records",
	Long:  "Drop the freshness record for each URL so the next fetch revalidates against the server. Cached bytes stay on disk.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInvalidate,
}

func init() {
	rootCmd.AddCommand(invalidateCmd)
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	f, err := openFetcher()
	if err != nil {
		return err
	}

	for _, url := range args {
		f.Invalidate(hoard.NewRequest(url))
		fmt.Fprintf(os.Stderr, "invalidated %s\n", url)
	}
	return nil
}
