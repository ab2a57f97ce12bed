package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/compiler"
	"github.com/marte-community/register-dev-tools/internal/lsp"
	"github.com/marte-community/register-dev-tools/internal/schema"
)

func newLSPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Run the language server on standard input and output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sch, err := schema.Load()
			if err != nil {
				return err
			}
			return lsp.RunServer(ctx, compiler.Options{Schema: sch})
		},
	}
}
