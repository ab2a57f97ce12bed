package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marte-community/register-dev-tools/internal/cache"
	"github.com/marte-community/register-dev-tools/internal/compiler"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/logger"
	"github.com/marte-community/register-dev-tools/internal/metrics"
	"github.com/marte-community/register-dev-tools/internal/project"
	"github.com/marte-community/register-dev-tools/internal/schema"
)

// cacheKeep is how many builds the cache retains after a command.
const cacheKeep = 256

// env holds the collaborators a command compiles with.
type env struct {
	settings    *project.Settings
	opts        compiler.Options
	metricsPath string
}

func newEnv(s *project.Settings, cachePath, metricsPath string) (*env, error) {
	e := &env{settings: s, metricsPath: s.Path(metricsPath)}
	if s.Schema.Strict {
		sch, err := schema.LoadFullSchema(s.Root)
		if err != nil {
			return nil, err
		}
		e.opts.Schema = sch
	}
	if cachePath != "" {
		c, err := cache.Open(s.Path(cachePath))
		if err != nil {
			return nil, err
		}
		e.opts.Cache = c
	}
	if e.metricsPath != "" {
		e.opts.Metrics = metrics.New()
	}
	return e, nil
}

// close prunes the cache and writes the metrics textfile.
func (e *env) close(ctx context.Context) {
	if c := e.opts.Cache; c != nil {
		if _, err := c.Prune(ctx, cacheKeep); err != nil {
			logger.Printf("%v", err)
		}
		if err := c.Close(); err != nil {
			logger.Printf("close cache: %v", err)
		}
	}
	if e.opts.Metrics != nil {
		if err := e.opts.Metrics.WriteTextfile(e.metricsPath); err != nil {
			logger.Printf("write metrics: %v", err)
		}
	}
}

// pick returns the flag value when it was given, the setting otherwise.
func pick(cmd *cobra.Command, name, flag, setting string) string {
	if cmd.Flags().Changed(name) || setting == "" {
		return flag
	}
	return setting
}

// printErrors writes one line per diagnostic carried by err.
func printErrors(w io.Writer, err error) int {
	errs := diag.Flatten(err)
	for _, e := range errs {
		fmt.Fprintln(w, e)
	}
	return len(errs)
}
