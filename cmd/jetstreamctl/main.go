// Command jetstreamctl is a small operator-facing CLI over the jetstream
// client: dial a server, attach a named scope, and print incoming
// SyncFragments as they arrive — exercising the full Client/Session/
// Transport stack as a real program rather than only in tests.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jetstreamctl",
		Short:         "Inspect a Jetstream server from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newWatchCmd())
	return root
}
