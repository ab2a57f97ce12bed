package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/schema"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the CUE schema manifests are checked against",
		Long: `Print the embedded CUE schema. A project narrows it with a ` + schema.ProjectFile + `
file next to rdt.toml; its definitions must stay open with "...".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), schema.Source())
			return err
		},
	}
}
