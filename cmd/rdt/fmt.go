package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/formatter"
	"github.com/marte-community/register-dev-tools/internal/logger"
)

func newFmtCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "fmt <file.rdl...>",
		Short: "Format .rdl manifests in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFmt(cmd, args, list)
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list files whose formatting differs instead of rewriting them")
	return cmd
}

func runFmt(cmd *cobra.Command, files []string, list bool) error {
	failed := 0
	for _, file := range files {
		if !strings.EqualFold(filepath.Ext(file), ".rdl") {
			logger.Printf("Skipping %s: only .rdl files can be formatted", file)
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Printf("Error reading %s: %v", file, err)
			failed++
			continue
		}
		out, err := formatter.Source(file, content)
		if err != nil {
			logger.Printf("Error parsing %s: %v", file, err)
			failed++
			continue
		}
		if bytes.Equal(out, content) {
			continue
		}
		if list {
			fmt.Fprintln(cmd.OutOrStdout(), file)
			continue
		}
		if err := os.WriteFile(file, out, 0o644); err != nil {
			logger.Printf("Error writing %s: %v", file, err)
			failed++
			continue
		}
		logger.Printf("Formatted %s", file)
	}
	if failed > 0 {
		return fmt.Errorf("%d files could not be formatted", failed)
	}
	return nil
}
