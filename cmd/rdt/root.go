package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/logger"
)

// Version is set by build flags.
var Version = "0.1.0"

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "rdt",
		Short: "Register description compiler",
		Long: `rdt compiles a manifest of registers, commands, buffers, blocks, refs and
enums into a resolved, validated device description. The description is
written as a JSON IR or as a Go package of typed accessors.

Manifests may be written in .rdl, YAML, TOML or JSON. Project settings are
read from rdt.toml, searched upward from the manifest's directory.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetDebug(true)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newBuildCmd(),
		newCheckCmd(),
		newFmtCmd(),
		newWatchCmd(),
		newSchemaCmd(),
		newLSPCmd(),
		newInitCmd(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Println(err)
		os.Exit(1)
	}
}
