// Package cache keeps slow-changing backend responses, such as the model
// catalogue and the ticker list, in memory and on disk for a limited time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const DefaultTTL = 30 * time.Minute

type cachedData struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Cache is a two-level cache: an in-process map in front of one JSON file per
// key. A zero dir disables the file level.
type Cache struct {
	dir string
	ttl time.Duration
	log *slog.Logger
	now func() time.Time

	mu     sync.RWMutex
	memory map[string]cachedData
}

func New(dir string, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{dir: dir, ttl: ttl, log: log, now: time.Now, memory: make(map[string]cachedData)}
}

// Get decodes the entry for key into out. It reports false when the entry
// is missing, expired, or unreadable.
func (c *Cache) Get(key string, out any) bool {
	entry, ok := c.lookup(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(entry.Data, out); err != nil {
		c.log.Debug("cache entry undecodable", "key", key, "err", err)
		return false
	}
	return true
}

func (c *Cache) lookup(key string) (cachedData, bool) {
	c.mu.RLock()
	entry, ok := c.memory[key]
	c.mu.RUnlock()
	if ok && c.fresh(entry) {
		return entry, true
	}

	if c.dir == "" {
		return cachedData{}, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Debug("cache file unreadable", "key", key, "err", err)
		}
		return cachedData{}, false
	}
	if err := json.Unmarshal(data, &entry); err != nil || !c.fresh(entry) {
		return cachedData{}, false
	}

	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()
	return entry, true
}

func (c *Cache) fresh(e cachedData) bool {
	return c.now().Sub(e.Timestamp) <= c.ttl
}

// Set stores v under key in memory and, when enabled, on disk.
func (c *Cache) Set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	entry := cachedData{Data: data, Timestamp: c.now()}

	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()

	if c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return os.Rename(tmp, c.path(key))
}

// Clear drops every entry, on disk included.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.memory = make(map[string]cachedData)
	c.mu.Unlock()
	if c.dir == "" {
		return nil
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

// Fetch returns the cached value for key, calling fetch and caching its
// result on a miss. With refresh set the cache is bypassed but still
// updated.
func Fetch[T any](ctx context.Context, c *Cache, key string, refresh bool, fetch func(context.Context) (T, error)) (T, error) {
	var v T
	if c != nil && !refresh && c.Get(key, &v) {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		if err := c.Set(key, v); err != nil {
			c.log.Warn("cache write failed", "key", key, "err", err)
		}
	}
	return v, nil
}
