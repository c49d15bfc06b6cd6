package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the engine's release version; set via -ldflags at build time,
// "dev" otherwise.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}
