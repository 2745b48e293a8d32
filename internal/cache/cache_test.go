package cache

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
)

func newTestCache() *ContentCache {
	return New(log.New(io.Discard, "", 0))
}

// writeWithMtime writes content and pins the file's mtime so tests do not
// depend on filesystem timestamp granularity.
func writeWithMtime(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
}

func TestGetOrRead_HitAndMiss(t *testing.T) {
	c := newTestCache()
	path := filepath.Join(t.TempDir(), "a.md")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeWithMtime(t, path, "one", base)

	got, err := c.GetOrRead(path)
	if err != nil {
		t.Fatalf("GetOrRead() failed: %v", err)
	}
	if got != "one" {
		t.Errorf("GetOrRead() = %q, want one", got)
	}

	if _, err := c.GetOrRead(path); err != nil {
		t.Fatalf("second GetOrRead() failed: %v", err)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss", stats)
	}
}

func TestGetOrRead_ExternalModification(t *testing.T) {
	c := newTestCache()
	path := filepath.Join(t.TempDir(), "a.md")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeWithMtime(t, path, "one", base)

	if _, err := c.GetOrRead(path); err != nil {
		t.Fatalf("GetOrRead() failed: %v", err)
	}

	writeWithMtime(t, path, "two", base.Add(time.Second))

	got, err := c.GetOrRead(path)
	if err != nil {
		t.Fatalf("GetOrRead() failed: %v", err)
	}
	if got != "two" {
		t.Errorf("GetOrRead() = %q, want two", got)
	}

	data, _ := os.ReadFile(path)
	if artifact.ContentHash([]byte(got)) != artifact.ContentHash(data) {
		t.Error("cached content hash differs from disk")
	}
}

func TestGetOrRead_NotFound(t *testing.T) {
	c := newTestCache()
	_, err := c.GetOrRead(filepath.Join(t.TempDir(), "missing.md"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOrRead_DeletedFileDropsEntry(t *testing.T) {
	c := newTestCache()
	path := filepath.Join(t.TempDir(), "a.md")
	writeWithMtime(t, path, "one", time.Now().Add(-time.Hour))

	if _, err := c.GetOrRead(path); err != nil {
		t.Fatalf("GetOrRead() failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if _, err := c.GetOrRead(path); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestGetIfUnchanged(t *testing.T) {
	c := newTestCache()
	path := filepath.Join(t.TempDir(), "a.md")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeWithMtime(t, path, "one", base)

	if _, ok := c.GetIfUnchanged(path); ok {
		t.Error("GetIfUnchanged() hit on empty cache")
	}

	if _, err := c.GetOrRead(path); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.GetIfUnchanged(path); !ok || got != "one" {
		t.Errorf("GetIfUnchanged() = (%q, %v), want (one, true)", got, ok)
	}

	writeWithMtime(t, path, "two", base.Add(time.Second))
	if _, ok := c.GetIfUnchanged(path); ok {
		t.Error("GetIfUnchanged() should miss after modification")
	}
}

func TestUpdate(t *testing.T) {
	c := newTestCache()
	path := filepath.Join(t.TempDir(), "a.md")
	writeWithMtime(t, path, "written", time.Now().Add(-time.Hour))

	if err := c.Update(path, "written"); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	got, ok := c.GetIfUnchanged(path)
	if !ok || got != "written" {
		t.Errorf("GetIfUnchanged() after Update = (%q, %v)", got, ok)
	}

	if err := c.Update(filepath.Join(t.TempDir(), "missing"), "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Update() on missing file = %v, want ErrNotFound", err)
	}
}

func TestInvalidateAndClear(t *testing.T) {
	c := newTestCache()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.md")
	b := filepath.Join(dir, "b.md")
	writeWithMtime(t, a, "a", time.Now().Add(-time.Hour))
	writeWithMtime(t, b, "b", time.Now().Add(-time.Hour))

	c.GetOrRead(a)
	c.GetOrRead(b)

	c.Invalidate(a)
	if c.Len() != 1 {
		t.Errorf("Len() after Invalidate = %d, want 1", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}
}

func TestConcurrentReaders(t *testing.T) {
	c := newTestCache()
	path := filepath.Join(t.TempDir(), "a.md")
	writeWithMtime(t, path, "shared", time.Now().Add(-time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetOrRead(path)
			if err != nil || got != "shared" {
				t.Errorf("GetOrRead() = (%q, %v)", got, err)
			}
		}()
	}
	wg.Wait()
}
