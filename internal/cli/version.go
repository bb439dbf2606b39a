package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mnema version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mnema", Version)
	},
}
