// Package cache provides a content cache keyed by filesystem path.
//
// Entries record the file's modification time at read. A lookup is a hit
// only while the file's current mtime still equals the recorded one, so
// the cache stays coherent with disk without holding file handles:
//
//	c := cache.New(nil)
//	content, err := c.GetOrRead("/p/.bluekit/kits/auth.md")
//
// Readers proceed in parallel; writers hold the lock only for the single
// map mutation.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluekit-app/bluekit/internal/apperr"
)

type entry struct {
	content string
	modTime time.Time
}

// Stats reports cache usage counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// ContentCache maps absolute paths to (content, mtime-at-read).
type ContentCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	hits    atomic.Uint64
	misses  atomic.Uint64
	logger  *log.Logger
}

// New creates an empty cache. If logger is nil, a default logger writing
// to stderr is used.
func New(logger *log.Logger) *ContentCache {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &ContentCache{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// GetOrRead returns the cached content for path when its recorded mtime
// equals the current disk mtime. Otherwise it reads the file, records the
// new entry and returns it.
func (c *ContentCache) GetOrRead(path string) (string, error) {
	modTime, err := statModTime(path)
	if err != nil {
		c.Invalidate(path)
		return "", err
	}

	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && e.modTime.Equal(modTime) {
		c.hits.Add(1)
		return e.content, nil
	}
	c.misses.Add(1)

	data, err := os.ReadFile(path)
	if err != nil {
		c.Invalidate(path)
		return "", readError(path, err)
	}

	// Record the mtime observed before the read. A writer that lands between
	// stat and read bumps mtime past it, so the next lookup misses and rereads.
	c.mu.Lock()
	c.entries[path] = entry{content: string(data), modTime: modTime}
	c.mu.Unlock()

	return string(data), nil
}

// GetIfUnchanged returns the cached content only when it is still current.
func (c *ContentCache) GetIfUnchanged(path string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}

	modTime, err := statModTime(path)
	if err != nil || !e.modTime.Equal(modTime) {
		return "", false
	}
	c.hits.Add(1)
	return e.content, true
}

// Update records content for path together with its current disk mtime.
// Call it right after writing the file.
func (c *ContentCache) Update(path, content string) error {
	modTime, err := statModTime(path)
	if err != nil {
		c.Invalidate(path)
		return err
	}

	c.mu.Lock()
	c.entries[path] = entry{content: content, modTime: modTime}
	c.mu.Unlock()
	return nil
}

// Invalidate forgets the entry for path.
func (c *ContentCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// InvalidateMany forgets every listed path.
func (c *ContentCache) InvalidateMany(paths []string) {
	c.mu.Lock()
	for _, p := range paths {
		delete(c.entries, p)
	}
	c.mu.Unlock()
}

// Clear empties the cache.
func (c *ContentCache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	c.logger.Printf("Cleared %d cached entries", n)
}

// Len returns the number of cached entries.
func (c *ContentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the usage counters.
func (c *ContentCache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func statModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, readError(path, err)
	}
	if info.IsDir() {
		return time.Time{}, fmt.Errorf("%s is a directory: %w", path, apperr.ErrIO)
	}
	return info.ModTime(), nil
}

func readError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file %s: %w", path, apperr.ErrNotFound)
	}
	return fmt.Errorf("failed to read %s: %v: %w", path, err, apperr.ErrIO)
}
