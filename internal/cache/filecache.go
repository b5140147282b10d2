package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agroclim/matopiba-eto/internal/weather"
)

// fileCache is the local fallback backend: one file per key under a fixed
// directory, with lazy write-triggered eviction. There is no background
// sweeper; every Put pays for cleanup.
type fileCache struct {
	dir        string
	maxBytes   int64
	fileExpiry time.Duration
	clock      clockwork.Clock
}

const defaultMaxBytes = 500 << 20 // 500 MB

func newFileCache(dir string, maxBytes int64, fileExpiry time.Duration, clock clockwork.Clock) *fileCache {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("cache: cannot create %s: %v", dir, err)
	}
	return &fileCache{dir: dir, maxBytes: maxBytes, fileExpiry: fileExpiry, clock: clock}
}

// path maps a key to a filesystem-safe filename. A short hash suffix keeps
// distinct keys from colliding after sanitization.
func (c *fileCache) path(key string) string {
	sum := sha1.Sum([]byte(key))
	safe := strings.NewReplacer(":", "_", "/", "_", ".", "_").Replace(key)
	return filepath.Join(c.dir, safe+"-"+hex.EncodeToString(sum[:4])+".json")
}

func (c *fileCache) Get(_ context.Context, key string, rng weather.DateRange) ([]byte, bool) {
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if !e.usable(c.clock.Now().UTC(), rng) {
		return nil, false
	}
	return e.Payload, true
}

func (c *fileCache) Put(_ context.Context, key string, payload []byte, cover weather.DateRange, ttl time.Duration) {
	raw, err := json.Marshal(newEnvelope(c.clock.Now().UTC(), payload, cover, ttl))
	if err != nil {
		return
	}
	if err := os.WriteFile(c.path(key), raw, 0o644); err != nil {
		log.Printf("cache: write %s failed: %v", key, err)
		return
	}
	c.evict()
}

// evict removes expired entries by modification time, then deletes
// oldest-first until the directory is under the size cap.
func (c *fileCache) evict() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
		size    int64
	}

	now := c.clock.Now()
	var (
		files []fileInfo
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if c.fileExpiry > 0 && now.Sub(info.ModTime()) > c.fileExpiry {
			if err := os.Remove(path); err == nil {
				continue
			}
		}
		files = append(files, fileInfo{path: path, modTime: info.ModTime(), size: info.Size()})
		total += info.Size()
	}

	if total <= c.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
		}
	}
}
