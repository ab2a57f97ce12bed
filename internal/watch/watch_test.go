package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) onChange(paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, paths)
}

func (r *recorder) seen() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for _, c := range r.calls {
		for _, p := range c {
			out[p] = true
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func start(t *testing.T, exclude []string, paths ...string) *recorder {
	t.Helper()
	rec := &recorder{}
	w, err := New(30*time.Millisecond, exclude, rec.onChange)
	require.NoError(t, err)
	require.NoError(t, w.Add(paths...))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return rec
}

func TestWatchFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "m.rdl")
	other := filepath.Join(dir, "other.rdl")
	require.NoError(t, os.WriteFile(file, []byte("A = 1\n"), 0o644))

	rec := start(t, nil, file)

	require.NoError(t, os.WriteFile(other, []byte("B = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(file, []byte("A = 2\n"), 0o644))

	require.Eventually(t, func() bool { return rec.seen()[file] }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.seen()[other], "sibling of a watched file is not reported")
}

func TestWatchDirectoryHonoursExcludes(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	rec := start(t, []string{"*.ir.json"}, dir)

	manifest := filepath.Join(sub, "b.rdl")
	output := filepath.Join(dir, "b.ir.json")
	require.NoError(t, os.WriteFile(output, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(manifest, []byte("B = 1\n"), 0o644))

	require.Eventually(t, func() bool { return rec.seen()[manifest] }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.seen()[output])
}

func TestWatchNewDirectory(t *testing.T) {
	dir := t.TempDir()
	rec := start(t, nil, dir)

	sub := filepath.Join(dir, "late")
	require.NoError(t, os.Mkdir(sub, 0o755))
	file := filepath.Join(sub, "c.rdl")

	// The new directory is added asynchronously, so keep writing until the
	// change shows up.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(file, []byte("C = 1\n"), 0o644)
		return rec.seen()[file]
	}, 3*time.Second, 50*time.Millisecond)
}

func TestDebounceCoalesces(t *testing.T) {
	rec := &recorder{}
	w, err := New(40*time.Millisecond, nil, rec.onChange)
	require.NoError(t, err)
	defer w.Close()

	w.scheduleChange("/b")
	w.scheduleChange("/a")
	w.scheduleChange("/b")

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, []string{"/a", "/b"}, rec.calls[0])
	rec.mu.Unlock()
}

func TestNewRejectsBadGlob(t *testing.T) {
	_, err := New(0, []string{"[a"}, func([]string) {})
	assert.Error(t, err)
}

func TestAddMissingPath(t *testing.T) {
	w, err := New(0, nil, func([]string) {})
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Add(filepath.Join(t.TempDir(), "missing.rdl")))
}
