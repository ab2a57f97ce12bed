// Package cache stores compiled IR keyed by the hash of the manifest it was
// compiled from, so unchanged manifests skip resolution and validation.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marte-community/register-dev-tools/internal/logger"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

// Version is the layout of the cache key itself.
const Version = "rdt-cache-2"

const schema = `
CREATE TABLE IF NOT EXISTS builds (
  id TEXT PRIMARY KEY,
  hash TEXT NOT NULL UNIQUE,
  ir BLOB NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_builds_created_at ON builds(created_at);
`

type Cache struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// Entry is one cached build.
type Entry struct {
	ID        string
	Hash      string
	IR        []byte
	CreatedAt time.Time
}

func Open(path string) (*Cache, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("cache path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("cache path %q is a directory, expected file", cleanPath)
	}
	if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=2000&_journal_mode=WAL", cleanPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache %q: %w", cleanPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema %q: %w", cleanPath, err)
	}
	logger.Debugf("cache opened at %s", cleanPath)
	return &Cache{path: cleanPath, db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Hash returns the cache key of a manifest: the SHA-256 of Version, the IR
// format, the build stamp of the running binary and the tree's canonical
// JSON. Layout and comments do not affect it; a new IR format or a rebuilt
// rdt does.
func Hash(root *tree.Node, format string) (string, error) {
	data, err := root.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	sum := sha256.New()
	for _, part := range []string{Version, format, buildStamp()} {
		sum.Write([]byte(part))
		sum.Write([]byte{0})
	}
	sum.Write(data)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// buildStamp identifies the running binary by module version and VCS
// revision. It is empty when the binary carries no build info.
func buildStamp() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	parts := []string{info.Main.Version}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.modified":
			parts = append(parts, s.Value)
		}
	}
	return strings.Join(parts, " ")
}

// Get returns the IR stored under hash. A miss is not an error.
func (c *Cache) Get(ctx context.Context, hash string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		e  = Entry{Hash: hash}
		ts string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, ir, created_at FROM builds WHERE hash = ?`, hash,
	).Scan(&e.ID, &e.IR, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry %s: %w", hash, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, false, fmt.Errorf("cache entry %s has a bad timestamp %q: %w", hash, ts, err)
	}
	return &e, true, nil
}

// Put stores ir under hash, replacing an older build with the same hash.
// It returns the row id, which stays stable across replacements.
func (c *Cache) Put(ctx context.Context, hash string, ir []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := c.db.ExecContext(ctx, `
INSERT INTO builds (id, hash, ir, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET ir = excluded.ir, created_at = excluded.created_at
`, uuid.NewString(), hash, ir, now)
	if err != nil {
		return "", fmt.Errorf("write cache entry %s: %w", hash, err)
	}
	var id string
	if err := c.db.QueryRowContext(ctx, `SELECT id FROM builds WHERE hash = ?`, hash).Scan(&id); err != nil {
		return "", fmt.Errorf("read back cache entry %s: %w", hash, err)
	}
	logger.Debugf("cached build %s (%d bytes)", id, len(ir))
	return id, nil
}

// Prune keeps the newest keep builds and deletes the rest.
func (c *Cache) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("prune: keep must not be negative, got %d", keep)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `
DELETE FROM builds WHERE id NOT IN (
  SELECT id FROM builds ORDER BY created_at DESC, rowid DESC LIMIT ?
)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Printf("pruned %d cached builds", n)
	}
	return n, nil
}

// Len reports how many builds are stored.
func (c *Cache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM builds`).Scan(&n)
	return n, err
}
