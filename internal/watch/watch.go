// Package watch reports manifest changes after a quiet period, so a burst of
// editor writes triggers one rebuild.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/marte-community/register-dev-tools/internal/logger"
)

// DefaultDebounce is the quiet period used when none is given.
const DefaultDebounce = 150 * time.Millisecond

type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	debounce   time.Duration
	exclude    []glob.Glob
	onChange   func([]string)
	callbackMu sync.Mutex

	// files are watched through their parent directory; roots are watched
	// recursively.
	files map[string]bool
	roots []string
	mu    sync.Mutex

	pending   map[string]struct{}
	pendingMu sync.Mutex
	timer     *time.Timer
}

// New creates a watcher. exclude holds globs matched against base names;
// onChange receives the sorted paths changed since the last call.
func New(debounce time.Duration, exclude []string, onChange func([]string)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		debounce: debounce,
		onChange: onChange,
		files:    make(map[string]bool),
		pending:  make(map[string]struct{}),
	}
	for _, pattern := range exclude {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		w.exclude = append(w.exclude, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsWatcher = fsw
	return w, nil
}

// Add starts watching paths. A file is watched through its directory so
// editors that save by rename are still seen; a directory is watched with
// everything below it.
func (w *Watcher) Add(paths ...string) error {
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.watchRecursive(abs); err != nil {
				return err
			}
			w.mu.Lock()
			w.roots = append(w.roots, abs)
			w.mu.Unlock()
			continue
		}
		if err := w.fsWatcher.Add(filepath.Dir(abs)); err != nil {
			return err
		}
		w.mu.Lock()
		w.files[abs] = true
		w.mu.Unlock()
	}
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// Run delivers changes until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.underRoot(event.Name) {
				if err := w.watchRecursive(event.Name); err != nil {
					logger.Printf("failed to watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}
	if !w.relevant(event.Name) {
		return
	}
	logger.Debugf("watch: %s %s", event.Op, event.Name)
	w.scheduleChange(event.Name)
}

func (w *Watcher) relevant(path string) bool {
	w.mu.Lock()
	explicit := w.files[path]
	w.mu.Unlock()
	if explicit {
		return true
	}
	return w.underRoot(path) && !w.excluded(path)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if rel, err := filepath.Rel(root, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) excluded(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return true
	}
	for _, g := range w.exclude {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flushChanges)
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.onChange(paths)
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()
	return w.fsWatcher.Close()
}
