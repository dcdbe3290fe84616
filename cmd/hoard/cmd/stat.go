package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aweris/hoard"
)

var statCmd = &cobra.Command{
	Use:   "stat <url>",
	Short: "Show the cache entry for a URL",
	Long:  "Show the on-disk state of a URL's cache entry: committed copy, pending partial download, and freshness record.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

func init() {
	statCmd.Flags().String("key", "", "cache key override")

	rootCmd.AddCommand(statCmd)
}

func runStat(cmd *cobra.Command, args []string) error {
	key, _ := cmd.Flags().GetString("key")

	f, err := openFetcher()
	if err != nil {
		return err
	}

	req := hoard.NewRequest(args[0])
	req.CacheKey = key

	info, err := f.Stat(req)
	if err != nil {
		return err
	}

	fmt.Printf("key:       %s\n", info.Key)
	fmt.Printf("committed: %v\n", info.Committed)
	if info.Committed {
		fmt.Printf("size:      %d\n", info.Size)
		fmt.Printf("modified:  %s\n", info.ModTime.Format(time.RFC3339))
	}
	if info.TempSize > 0 {
		fmt.Printf("partial:   %d bytes pending\n", info.TempSize)
	}
	if !info.CheckedAt.IsZero() {
		fmt.Printf("checked:   %s\n", info.CheckedAt.Format(time.RFC3339))
		fmt.Printf("validator: %s\n", info.Validator)
	}
	return nil
}
