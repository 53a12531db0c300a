// Command mediaprobe sniffs media files and prints their container and
// track metadata, optionally walking samples and exercising seeks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print mediaprobe version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mediaprobe %v\n", version)
	},
	DisableFlagsInUseLine: true,
}

var version = "dev"

func main() {
	root := newRootCommand()
	root.AddCommand(versionCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
