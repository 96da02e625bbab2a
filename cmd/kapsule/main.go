// Command kapsule is the daemon entrypoint: a small Cobra command tree
// (run, version) around internal/facade. Mirrors cmd/compose/compose.go's
// RootCommand construction: a persistent --debug flag, with logrus setup
// and signal-driven shutdown done inside the run subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:          "kapsule",
		Short:        "Bridges the desktop session bus to an Incus container backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newRunCommand(&debug))
	root.AddCommand(newVersionCommand())
	return root
}
