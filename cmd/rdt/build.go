package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/builder"
	"github.com/marte-community/register-dev-tools/internal/project"
)

type buildFlags struct {
	output  string
	format  string
	pkg     string
	cache   string
	metrics string
}

func newBuildCmd() *cobra.Command {
	var f buildFlags
	cmd := &cobra.Command{
		Use:   "build <manifest>",
		Short: "Compile a manifest to IR or Go",
		Long: `Compile a manifest and write the result. Without -o the output goes to
standard output. Flags override the [build] table of rdt.toml.

Examples:
  rdt build device.rdl
  rdt build --format go --pkg regs -o regs/device.go device.yaml
  rdt build --cache .rdt/builds.db --metrics rdt.prom device.rdl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file")
	cmd.Flags().StringVar(&f.format, "format", builder.FormatIR, "output format: ir, go")
	cmd.Flags().StringVar(&f.pkg, "pkg", "registers", "package name of generated Go")
	cmd.Flags().StringVar(&f.cache, "cache", "", "compile cache database")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "write Prometheus metrics to this textfile")
	return cmd
}

func runBuild(cmd *cobra.Command, f buildFlags, manifest string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := project.Find(filepath.Dir(manifest))
	if err != nil {
		return err
	}
	e, err := newEnv(s, pick(cmd, "cache", f.cache, s.Build.Cache), pick(cmd, "metrics", f.metrics, s.Build.Metrics))
	if err != nil {
		return err
	}
	defer e.close(ctx)

	b, err := builder.NewBuilder(pick(cmd, "format", f.format, s.Build.Format), pick(cmd, "pkg", f.pkg, s.Build.Package), e.opts)
	if err != nil {
		return err
	}

	out := f.output
	if !cmd.Flags().Changed("output") && s.File != "" {
		out = s.Path(s.Build.Output)
	}
	if out == "" {
		_, err = b.Build(ctx, manifest, cmd.OutOrStdout())
	} else {
		_, err = b.BuildFile(ctx, manifest, out)
	}
	if err != nil {
		n := printErrors(cmd.ErrOrStderr(), err)
		return fmt.Errorf("build of %s failed with %d errors", manifest, n)
	}
	return nil
}
