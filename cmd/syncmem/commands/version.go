package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print version information",
	PersistentPreRunE: noSetup,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "syncmem v%s\n", version)
		fmt.Fprintln(out, "Host/device synchronized memory")
		fmt.Fprintln(out, "")
		fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// noSetup replaces the root hook for commands that never touch a device
func noSetup(cmd *cobra.Command, args []string) error {
	return nil
}
