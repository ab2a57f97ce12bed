package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/builder"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/logger"
	"github.com/marte-community/register-dev-tools/internal/project"
	"github.com/marte-community/register-dev-tools/internal/watch"
)

type watchFlags struct {
	buildFlags
	debounce time.Duration
}

func newWatchCmd() *cobra.Command {
	var f watchFlags
	cmd := &cobra.Command{
		Use:   "watch <manifest>",
		Short: "Rebuild a manifest whenever it changes",
		Long: `Build the manifest, then rebuild it each time it is saved. A failed
rebuild leaves the previous output in place. Without -o the output is the
[build] output of rdt.toml, or <manifest>.ir.json next to the manifest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file")
	cmd.Flags().StringVar(&f.format, "format", builder.FormatIR, "output format: ir, go")
	cmd.Flags().StringVar(&f.pkg, "pkg", "registers", "package name of generated Go")
	cmd.Flags().StringVar(&f.cache, "cache", "", "compile cache database")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "write Prometheus metrics to this textfile on exit")
	cmd.Flags().DurationVar(&f.debounce, "debounce", watch.DefaultDebounce, "quiet period before rebuilding")
	return cmd
}

func defaultOutput(manifest, format string) string {
	base := strings.TrimSuffix(manifest, filepath.Ext(manifest))
	if format == builder.FormatGo {
		return base + ".go"
	}
	return base + ".ir.json"
}

func runWatch(cmd *cobra.Command, f watchFlags, manifest string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := project.Find(filepath.Dir(manifest))
	if err != nil {
		return err
	}
	e, err := newEnv(s, pick(cmd, "cache", f.cache, s.Build.Cache), pick(cmd, "metrics", f.metrics, s.Build.Metrics))
	if err != nil {
		return err
	}
	defer e.close(context.Background())

	format := pick(cmd, "format", f.format, s.Build.Format)
	b, err := builder.NewBuilder(format, pick(cmd, "pkg", f.pkg, s.Build.Package), e.opts)
	if err != nil {
		return err
	}
	out := f.output
	if out == "" {
		out = s.Path(s.Build.Output)
	}
	if out == "" {
		out = defaultOutput(manifest, format)
	}

	rebuild := func() {
		if _, err := b.BuildFile(ctx, manifest, out); err != nil {
			for _, d := range diag.Flatten(err) {
				logger.Println(d)
			}
			logger.Printf("build of %s failed; keeping the previous %s", manifest, out)
		}
	}
	rebuild()

	w, err := watch.New(f.debounce, nil, func(paths []string) {
		logger.Debugf("changed: %s", strings.Join(paths, ", "))
		rebuild()
	})
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(manifest); err != nil {
		return err
	}
	logger.Printf("Watching %s (Ctrl-C to stop)", manifest)
	return w.Run(ctx)
}
