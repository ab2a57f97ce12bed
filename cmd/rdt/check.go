package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/compiler"
	"github.com/marte-community/register-dev-tools/internal/index"
	"github.com/marte-community/register-dev-tools/internal/logger"
	"github.com/marte-community/register-dev-tools/internal/project"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [files or directories...]",
		Short: "Compile manifests and report diagnostics",
		Long: `Compile every manifest named and every manifest below the directories
named, without writing output. Directories are filtered by the [check]
include and exclude globs of rdt.toml. With no arguments the current
directory is checked.`,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if len(args) == 0 {
		args = []string{"."}
	}

	start := args[0]
	if info, err := os.Stat(start); err == nil && !info.IsDir() {
		start = filepath.Dir(start)
	}
	s, err := project.Find(start)
	if err != nil {
		return err
	}

	files, err := collect(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Println("No manifests found.")
		return nil
	}

	e, err := newEnv(s, "", "")
	if err != nil {
		return err
	}
	defer e.close(ctx)

	out := cmd.OutOrStdout()
	var errs, warnings int
	for _, res := range compiler.CompileAll(ctx, files, e.opts) {
		errs += printErrors(out, res.Err)
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "%s: %s\n", res.File, w)
		}
		warnings += len(res.Warnings)
	}

	if errs+warnings == 0 {
		logger.Printf("No issues found in %d manifests.", len(files))
		return nil
	}
	logger.Printf("Found %d errors and %d warnings in %d manifests.", errs, warnings, len(files))
	if errs > 0 {
		return fmt.Errorf("check failed")
	}
	return nil
}

// collect expands directories into the manifests their project settings
// select. Files are taken as given.
func collect(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		s, err := project.Find(arg)
		if err != nil {
			return nil, err
		}
		match, err := s.Matcher()
		if err != nil {
			return nil, err
		}
		found, err := index.ScanDirectory(arg, match)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}
