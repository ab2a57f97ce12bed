// Package compiler runs the whole pipeline on one manifest: schema check,
// config, object model, index, resolution, validation and the code
// generation plan.
package compiler

import (
	"context"
	"runtime"
	"sync"

	"github.com/marte-community/register-dev-tools/internal/cache"
	"github.com/marte-community/register-dev-tools/internal/codegen"
	"github.com/marte-community/register-dev-tools/internal/config"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/index"
	"github.com/marte-community/register-dev-tools/internal/logger"
	"github.com/marte-community/register-dev-tools/internal/metrics"
	"github.com/marte-community/register-dev-tools/internal/model"
	"github.com/marte-community/register-dev-tools/internal/parser"
	"github.com/marte-community/register-dev-tools/internal/resolver"
	"github.com/marte-community/register-dev-tools/internal/schema"
	"github.com/marte-community/register-dev-tools/internal/tree"
	"github.com/marte-community/register-dev-tools/internal/validator"
)

// Options selects the optional collaborators of a compile. The zero value
// compiles without schema checking, metrics or caching.
type Options struct {
	Schema  *schema.Schema
	Metrics *metrics.Metrics
	Cache   *cache.Cache
}

// Result holds every stage output reached. On failure the stages before the
// failing one are still filled in.
type Result struct {
	File     string
	Tree     *tree.Node
	Config   *config.Config
	Manifest *model.Manifest
	Index    *index.ObjectTree
	Device   *resolver.Device
	Plan     *codegen.Plan
	Warnings []validator.Diagnostic
	// Hash is the cache key of Tree, set when a cache is in use.
	Hash string
	// Cached reports that Plan came from the cache; Manifest, Index and
	// Device are then nil.
	Cached bool
	Err    error
}

// Compile runs the pipeline on a parsed manifest.
func Compile(ctx context.Context, root *tree.Node, opts Options) (*Result, error) {
	res := &Result{Tree: root}
	res.Err = compile(ctx, res, opts)
	opts.Metrics.CountErrors(res.Err)
	return res, res.Err
}

func compile(ctx context.Context, res *Result, opts Options) error {
	m := opts.Metrics
	root := res.Tree

	if opts.Schema != nil {
		done := m.Time(metrics.StageSchema)
		err := opts.Schema.Check(root)
		done()
		if err != nil {
			return err
		}
	}

	if opts.Cache != nil {
		if hit, err := lookup(ctx, res, opts); err != nil || hit {
			return err
		}
	}

	done := m.Time(metrics.StageConfig)
	var cfgNode *tree.Node
	if root != nil && root.Kind == tree.Mapping {
		cfgNode, _ = root.Lookup(model.ConfigKey)
	}
	cfg, err := config.Resolve(cfgNode)
	done()
	if err != nil {
		return err
	}
	res.Config = cfg

	done = m.Time(metrics.StageModel)
	manifest, err := model.Parse(root, cfg)
	done()
	if err != nil {
		return err
	}
	res.Manifest = manifest
	res.Index = index.Build(manifest)

	done = m.Time(metrics.StageResolve)
	dev, err := resolver.Resolve(ctx, manifest, res.Index)
	done()
	if err != nil {
		return err
	}
	res.Device = dev
	countObjects(m, dev)

	done = m.Time(metrics.StageValidate)
	v := validator.NewValidator(dev)
	v.ValidateDevice(ctx)
	done()
	if err := ctx.Err(); err != nil {
		return err
	}
	res.Warnings = v.Warnings()
	if err := v.Err(); err != nil {
		return err
	}

	done = m.Time(metrics.StageCodegen)
	plan, err := codegen.Build(dev)
	done()
	if err != nil {
		return err
	}
	res.Plan = plan

	if opts.Cache != nil && res.Hash != "" {
		if ir, err := plan.JSON(); err == nil {
			if _, err := opts.Cache.Put(ctx, res.Hash, ir); err != nil {
				logger.Printf("cache write failed: %v", err)
			}
		}
	}
	return nil
}

// lookup fills res from the cache. Cache failures are logged and treated
// as misses.
func lookup(ctx context.Context, res *Result, opts Options) (bool, error) {
	hash, err := cache.Hash(res.Tree, codegen.FormatVersion)
	if err != nil {
		logger.Printf("cache disabled for %s: %v", res.File, err)
		return false, nil
	}
	res.Hash = hash
	entry, ok, err := opts.Cache.Get(ctx, hash)
	if err != nil {
		logger.Printf("cache read failed: %v", err)
		ok = false
	}
	if !ok {
		opts.Metrics.CacheMiss()
		return false, nil
	}
	plan, err := codegen.ParseJSON(entry.IR)
	if err != nil {
		logger.Printf("discarding unreadable cache entry %s: %v", entry.ID, err)
		opts.Metrics.CacheMiss()
		return false, nil
	}
	if plan.Format != codegen.FormatVersion {
		logger.Printf("discarding cache entry %s: IR format %q, want %q", entry.ID, plan.Format, codegen.FormatVersion)
		opts.Metrics.CacheMiss()
		return false, nil
	}
	opts.Metrics.CacheHit()
	logger.Debugf("cache hit %s for %s", entry.ID, res.File)
	res.Plan = plan
	res.Cached = true
	return true, nil
}

func countObjects(m *metrics.Metrics, dev *resolver.Device) {
	counts := make(map[model.Kind]int)
	for _, o := range dev.Objects {
		counts[o.Kind]++
	}
	for kind, n := range counts {
		m.CountObjects(kind.String(), n)
	}
}

// CompileBytes parses data in the format implied by file's extension and
// compiles it.
func CompileBytes(ctx context.Context, file string, data []byte, opts Options) (*Result, error) {
	f, err := parser.DetectFormat(file)
	if err != nil {
		err = diag.New(diag.IO, "", tree.Position{File: file}, "%v", err)
		opts.Metrics.CountErrors(err)
		return &Result{File: file, Err: err}, err
	}
	done := opts.Metrics.Time(metrics.StageLoad)
	root, err := parser.ParseBytes(file, data, f)
	done()
	if err != nil {
		opts.Metrics.CountErrors(err)
		return &Result{File: file, Err: err}, err
	}
	res, err := Compile(ctx, root, opts)
	res.File = file
	return res, err
}

// CompileFile loads and compiles the manifest at path.
func CompileFile(ctx context.Context, path string, opts Options) (*Result, error) {
	done := opts.Metrics.Time(metrics.StageLoad)
	root, err := parser.LoadFile(path)
	done()
	if err != nil {
		opts.Metrics.CountErrors(err)
		return &Result{File: path, Err: err}, err
	}
	res, err := Compile(ctx, root, opts)
	res.File = path
	return res, err
}

// CompileAll compiles independent manifests on a bounded worker pool. The
// results are in the order of paths; each carries its own Err.
func CompileAll(ctx context.Context, paths []string, opts Options) []*Result {
	results := make([]*Result, len(paths))

	numWorkers := runtime.NumCPU()
	if numWorkers < 4 {
		numWorkers = 4
	}
	if numWorkers > len(paths) {
		numWorkers = len(paths)
	}

	tasks := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				if err := ctx.Err(); err != nil {
					results[i] = &Result{File: paths[i], Err: err}
					continue
				}
				results[i], _ = CompileFile(ctx, paths[i], opts)
			}
		}()
	}
	for i := range paths {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	return results
}
