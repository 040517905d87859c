package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/theautomat/crewsync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the crewsync version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crewsync %s (%s %s/%s)\n", version.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
