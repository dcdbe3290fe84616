package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/hoard"
)

var rmCmd = &cobra.Command{
	Use:   "rm <url>...",
	Short: "Delete cache entries",
	Long:  "Delete the committed copy, partial download and freshness record for each URL.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	f, err := openFetcher()
	if err != nil {
		return err
	}

	for _, url := range args {
		if err := f.Remove(hoard.NewRequest(url)); err != nil {
			return fmt.Errorf("remove %s: %w", url, err)
		}
		fmt.Fprintf(os.Stderr, "removed %s\n", url)
	}
	return nil
}
