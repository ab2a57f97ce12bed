package main

import (
	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/logger"
	"github.com/marte-community/register-dev-tools/internal/project"
)

func newInitCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Create rdt.toml and a sample manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := project.Init(dir, args[0])
			if err != nil {
				return err
			}
			for _, f := range files {
				logger.Printf("Created %s", f)
			}
			logger.Printf("Project '%s' initialized successfully.", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "directory to create the project in")
	return cmd
}
