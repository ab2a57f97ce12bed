package compiler

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/register-dev-tools/internal/cache"
	"github.com/marte-community/register-dev-tools/internal/codegen"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/metrics"
	"github.com/marte-community/register-dev-tools/internal/project"
	"github.com/marte-community/register-dev-tools/internal/schema"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

func fixture(name string) string {
	return filepath.Join("testdata", name)
}

func strictOptions(t *testing.T) Options {
	t.Helper()
	s, err := schema.Load()
	require.NoError(t, err)
	return Options{Schema: s}
}

func TestEndToEndFixture(t *testing.T) {
	ctx := context.Background()
	res, err := CompileFile(ctx, fixture("fixture.rdl"), strictOptions(t))
	require.NoError(t, err)
	require.NotNil(t, res.Plan)

	foo := res.Device.Instances("Bar/Foo")
	require.Len(t, foo, 2)
	assert.Equal(t, uint64(10), foo[0].Address)
	assert.Equal(t, uint64(30), foo[1].Address)
	assert.Equal(t, "Bar[1]/Foo", foo[1].Instance)

	mem := device.NewMemory()
	in := codegen.NewInterpreter(res.Plan, mem)
	for i, addr := range []uint64{10, 30} {
		reg, err := in.Register("Bar/Foo", i)
		require.NoError(t, err)
		assert.Equal(t, addr, reg.Address())

		mem.SetRegisterBytes(addr, []byte{0x73, 0x60, 0xFB})
		view, err := reg.Read(ctx)
		require.NoError(t, err)
		assert.Len(t, view.Bytes(), 3)
		v0, err := view.Get("value0")
		require.NoError(t, err)
		v1, err := view.Get("value1")
		require.NoError(t, err)
		v2, err := view.Get("value2")
		require.NoError(t, err)
		assert.Equal(t, true, v0)
		assert.Equal(t, uint64(12345), v1)
		assert.Equal(t, int64(-5), v2)
	}
}

func TestRefOverrideKeepsFields(t *testing.T) {
	res, err := CompileFile(context.Background(), fixture("fixture.rdl"), Options{})
	require.NoError(t, err)

	refs := res.Device.Instances("FooRef")
	require.Len(t, refs, 1)
	ref := refs[0]
	assert.Equal(t, uint64(3), ref.Address)
	reg := ref.Register()
	require.NotNil(t, reg)
	require.NotNil(t, reg.ResetValue)
	assert.Equal(t, uint64(2), reg.ResetValue.Value)
	require.Len(t, reg.Fields, 3)
	assert.Equal(t, "value0", reg.Fields[0].Name)
	assert.Equal(t, "value1", reg.Fields[1].Name)
	assert.Equal(t, "value2", reg.Fields[2].Name)
	assert.Equal(t, uint64(16), reg.Fields[2].Start)
	assert.Equal(t, uint64(24), reg.Fields[2].End)

	foo := res.Device.Instances("Bar/Foo")[0].Register()
	assert.Nil(t, foo.ResetValue)
	assert.Equal(t, uint64(0), foo.Address)
}

func TestAllFormatsCompileToTheSamePlan(t *testing.T) {
	ctx := context.Background()
	var want string
	for _, name := range []string{"fixture.rdl", "fixture.yaml", "fixture.toml", "fixture.json"} {
		res, err := CompileFile(ctx, fixture(name), strictOptions(t))
		require.NoError(t, err, name)
		ir, err := res.Plan.JSON()
		require.NoError(t, err)
		if want == "" {
			want = string(ir)
			continue
		}
		assert.Equal(t, want, string(ir), name)
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, err := CompileFile(ctx, fixture("fixture.rdl"), Options{})
	require.NoError(t, err)
	b, err := CompileFile(ctx, fixture("fixture.rdl"), Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Device.Dump(), b.Device.Dump())

	ia, err := a.Plan.JSON()
	require.NoError(t, err)
	ib, err := b.Plan.JSON()
	require.NoError(t, err)
	assert.Equal(t, ia, ib)
}

func TestRoundTripEveryField(t *testing.T) {
	ctx := context.Background()
	res, err := CompileFile(ctx, fixture("fixture.rdl"), Options{})
	require.NoError(t, err)
	in := codegen.NewInterpreter(res.Plan, device.NewMemory())
	reg, err := in.Register("Bar/Foo", 0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		v0 := rng.Intn(2) == 1
		v1 := uint64(rng.Intn(1 << 15))
		v2 := int64(rng.Intn(256) - 128)
		require.NoError(t, reg.Write(ctx, func(v *codegen.FieldView) error {
			if err := v.Set("value0", v0); err != nil {
				return err
			}
			if err := v.Set("value1", v1); err != nil {
				return err
			}
			return v.Set("value2", v2)
		}))
		got, err := reg.Read(ctx)
		require.NoError(t, err)
		g0, _ := got.Get("value0")
		g1, _ := got.Get("value1")
		g2, _ := got.Get("value2")
		require.Equal(t, v0, g0)
		require.Equal(t, v1, g1)
		require.Equal(t, v2, g2)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		src  string
		kind diag.Kind
		want string
	}{
		{
			name: "field overlap",
			file: "m.rdl",
			src: `config = { register_address_type = u8 default_byte_order = LE }
R = { type = register address = 0 size_bits = 16 fields = {
    a = { base = uint start = 0 end = 8 }
    b = { base = uint start = 4 end = 12 } } }`,
			kind: diag.Validation,
			want: "overlap",
		},
		{
			name: "stride below footprint",
			file: "m.rdl",
			src: `config = { register_address_type = u8 }
B = { type = block repeat = { count = 2 stride = 1 } children = {
    R0 = { type = register address = 0 size_bits = 8 }
    R1 = { type = register address = 1 size_bits = 8 } } }`,
			kind: diag.Resolution,
			want: "repeat stride 1 of block B",
		},
		{
			name: "enum width",
			file: "m.rdl",
			src: `config = { register_address_type = u8 }
E = { type = enum bits = 3 variants = { A = 0 B = 1 } }
R = { type = register address = 0 size_bits = 8 fields = { e = { base = E start = 0 end = 2 } } }`,
			kind: diag.Validation,
			want: "enum width mismatch",
		},
		{
			name: "ref cycle",
			file: "m.rdl",
			src:  "A = { type = ref target = B }\nB = { type = ref target = A }",
			kind: diag.Resolution,
			want: "reference cycle",
		},
		{
			name: "address collision",
			file: "m.yaml",
			src: `config: {register_address_type: u8}
A: {type: register, address: 5, size_bits: 8}
B: {type: register, address: 5, size_bits: 8}`,
			kind: diag.Resolution,
			want: "address collision",
		},
		{
			name: "bad config",
			file: "m.rdl",
			src:  "config = { register_address_type = u12 }",
			kind: diag.Config,
			want: "u12",
		},
		{
			name: "syntax",
			file: "m.rdl",
			src:  "R = { type = register",
			kind: diag.Syntax,
			want: "unclosed",
		},
		{
			name: "unknown extension",
			file: "m.ini",
			src:  "",
			kind: diag.IO,
			want: "unrecognised manifest extension",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := CompileBytes(context.Background(), tt.file, []byte(tt.src), Options{})
			require.Error(t, err)
			require.NotNil(t, res)
			assert.Equal(t, err, res.Err)
			assert.Nil(t, res.Plan)
			assert.True(t, diag.Is(err, tt.kind), "%v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOverlapFixtureFailsValidation(t *testing.T) {
	res, err := CompileFile(context.Background(), fixture("overlap.rdl"), Options{})
	require.Error(t, err)
	assert.True(t, diag.Is(err, diag.Validation))
	assert.Contains(t, err.Error(), "fields a [0,8) and b [4,12) of R overlap")
	assert.NotNil(t, res.Device)
	assert.NotNil(t, res.Index)
}

func TestSchemaCatchesStructureFirst(t *testing.T) {
	src := "R = { type = register address = 0 size_bits = 8 colour = red }"
	_, err := CompileBytes(context.Background(), "m.rdl", []byte(src), strictOptions(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema: ")

	_, err = CompileBytes(context.Background(), "m.rdl", []byte(src), Options{})
	require.Error(t, err)
	assert.True(t, diag.Is(err, diag.Parse))
	assert.NotContains(t, err.Error(), "schema: ")
}

func TestWarningsDoNotFailCompile(t *testing.T) {
	src := `config = { register_address_type = u8 }
Unused = { type = enum bits = 1 variants = { A = 0 B = 1 } }
R = { type = register address = 0 size_bits = 8 }`
	res, err := CompileBytes(context.Background(), "m.rdl", []byte(src), Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, "unused_enum", res.Warnings[0].Tag)
}

func TestSampleManifestCompiles(t *testing.T) {
	res, err := CompileBytes(context.Background(), "sample.rdl", []byte(project.Sample), strictOptions(t))
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.NotNil(t, res.Plan.Entry("Control"))
	assert.NotNil(t, res.Plan.Entry("Status"))
}

func TestCacheAndMetrics(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open(filepath.Join(t.TempDir(), "builds.db"))
	require.NoError(t, err)
	defer c.Close()
	m := metrics.New()
	opts := Options{Cache: c, Metrics: m}

	first, err := CompileFile(ctx, fixture("fixture.rdl"), opts)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.NotEmpty(t, first.Hash)

	second, err := CompileFile(ctx, fixture("fixture.yaml"), opts)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Nil(t, second.Device)

	a, err := first.Plan.JSON()
	require.NoError(t, err)
	b, err := second.Plan.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	expected := `
# HELP rdt_cache_hits_total Compile cache hits
# TYPE rdt_cache_hits_total counter
rdt_cache_hits_total 1
# HELP rdt_cache_misses_total Compile cache misses
# TYPE rdt_cache_misses_total counter
rdt_cache_misses_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"rdt_cache_hits_total", "rdt_cache_misses_total"))

	_, err = CompileFile(ctx, fixture("overlap.rdl"), opts)
	require.Error(t, err)
	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStaleCachedIRIsRebuilt(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open(filepath.Join(t.TempDir(), "builds.db"))
	require.NoError(t, err)
	defer c.Close()
	m := metrics.New()
	opts := Options{Cache: c, Metrics: m}

	first, err := CompileFile(ctx, fixture("fixture.rdl"), opts)
	require.NoError(t, err)
	require.False(t, first.Cached)

	stale := *first.Plan
	stale.Format = "rdt-ir/1"
	ir, err := stale.JSON()
	require.NoError(t, err)
	_, err = c.Put(ctx, first.Hash, ir)
	require.NoError(t, err)

	second, err := CompileFile(ctx, fixture("fixture.rdl"), opts)
	require.NoError(t, err)
	assert.False(t, second.Cached, "an IR of another format must not be served")
	assert.NotNil(t, second.Device)

	entry, ok, err := c.Get(ctx, first.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	back, err := codegen.ParseJSON(entry.IR)
	require.NoError(t, err)
	assert.Equal(t, codegen.FormatVersion, back.Format)

	third, err := CompileFile(ctx, fixture("fixture.rdl"), opts)
	require.NoError(t, err)
	assert.True(t, third.Cached)

	expected := `
# HELP rdt_cache_hits_total Compile cache hits
# TYPE rdt_cache_hits_total counter
rdt_cache_hits_total 1
# HELP rdt_cache_misses_total Compile cache misses
# TYPE rdt_cache_misses_total counter
rdt_cache_misses_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"rdt_cache_hits_total", "rdt_cache_misses_total"))
}

func TestCompileAllKeepsOrder(t *testing.T) {
	paths := []string{
		fixture("fixture.rdl"),
		fixture("missing.rdl"),
		fixture("overlap.rdl"),
		fixture("fixture.json"),
	}
	results := CompileAll(context.Background(), paths, Options{})
	require.Len(t, results, len(paths))
	for i, res := range results {
		assert.Equal(t, paths[i], res.File)
	}
	assert.NoError(t, results[0].Err)
	assert.True(t, diag.Is(results[1].Err, diag.IO))
	assert.True(t, diag.Is(results[2].Err, diag.Validation))
	assert.NoError(t, results[3].Err)
}

func TestCompileHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CompileFile(ctx, fixture("fixture.rdl"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObjectCounts(t *testing.T) {
	m := metrics.New()
	_, err := CompileFile(context.Background(), fixture("fixture.rdl"), Options{Metrics: m})
	require.NoError(t, err)

	expected := `
# HELP rdt_compile_objects_total Resolved objects by kind
# TYPE rdt_compile_objects_total counter
rdt_compile_objects_total{kind="buffer"} 1
rdt_compile_objects_total{kind="register"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"rdt_compile_objects_total"))
}
