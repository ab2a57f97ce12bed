// Package builder compiles a manifest and writes the selected output: the
// JSON IR or a Go accessor package.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marte-community/register-dev-tools/internal/codegen"
	"github.com/marte-community/register-dev-tools/internal/compiler"
	"github.com/marte-community/register-dev-tools/internal/logger"
)

const (
	FormatIR = "ir"
	FormatGo = "go"
)

type Builder struct {
	Format  string
	Package string
	Options compiler.Options
}

func NewBuilder(format, pkg string, opts compiler.Options) (*Builder, error) {
	if format == "" {
		format = FormatIR
	}
	if format != FormatIR && format != FormatGo {
		return nil, fmt.Errorf("unknown output format %q, expected %s or %s", format, FormatIR, FormatGo)
	}
	return &Builder{Format: format, Package: pkg, Options: opts}, nil
}

// Build compiles the manifest at path and writes the output to w. Nothing
// is written when compilation fails.
func (b *Builder) Build(ctx context.Context, path string, w io.Writer) (*compiler.Result, error) {
	res, err := compiler.CompileFile(ctx, path, b.Options)
	if err != nil {
		return res, err
	}
	for _, d := range res.Warnings {
		logger.Printf("%s: %s", path, d)
	}

	var buf bytes.Buffer
	if err := b.render(res.Plan, &buf); err != nil {
		return res, err
	}
	_, err = w.Write(buf.Bytes())
	return res, err
}

func (b *Builder) render(plan *codegen.Plan, w io.Writer) error {
	if b.Format == FormatGo {
		return codegen.EmitGo(plan, codegen.GoOptions{Package: b.Package}, w)
	}
	data, err := plan.JSON()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// BuildFile writes the output of Build to out. The file is replaced
// atomically and left untouched when compilation fails.
func (b *Builder) BuildFile(ctx context.Context, path, out string) (*compiler.Result, error) {
	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(out)+".*")
	if err != nil {
		return nil, fmt.Errorf("create output %q: %w", out, err)
	}
	defer os.Remove(tmp.Name())

	res, err := b.Build(ctx, path, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return res, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return res, err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return res, fmt.Errorf("write output %q: %w", out, err)
	}
	if res.Cached {
		logger.Printf("built %s from cache -> %s", path, out)
	} else {
		logger.Printf("built %s -> %s", path, out)
	}
	return res, nil
}
