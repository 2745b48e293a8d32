package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/bluekit-app/bluekit/internal/apperr"
)

// Event names for the well-known watch targets.
const (
	ProjectArtifactsPrefix = "project-artifacts-changed-"
	ProjectsDatabaseEvent  = "projects-database-changed"
	ProjectRegistryEvent   = "project-registry-changed"
)

var unsafeEventChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ProjectArtifactsEvent returns the event name for a project's .bluekit watcher.
func ProjectArtifactsEvent(projectID string) string {
	return ProjectArtifactsPrefix + unsafeEventChars.ReplaceAllString(projectID, "-")
}

// EventNameForPath derives a stable event name from a target path.
func EventNameForPath(prefix, path string) string {
	clean := unsafeEventChars.ReplaceAllString(filepath.ToSlash(filepath.Clean(path)), "-")
	return prefix + clean
}

// Health describes one registered watcher.
type Health struct {
	EventName    string `json:"event_name"`
	Path         string `json:"path"`
	Kind         string `json:"kind"`
	RestartCount int    `json:"restart_count"`
	IsActive     bool   `json:"is_active"`
	ErrorCount   int    `json:"error_count"`
	Dropped      int64  `json:"dropped_events"`
	LastEventAt  int64  `json:"last_event_at,omitempty"`
}

// Fleet is the process-wide watcher registry. It guarantees at most one
// watcher per event name.
type Fleet struct {
	mu      sync.RWMutex
	tasks   map[string]*task
	emitter Emitter
	config  *Config

	// newBackend is replaced in tests to inject failures.
	newBackend func() (backend, error)
}

// NewFleet creates an empty registry that reports to emitter.
func NewFleet(emitter Emitter, config *Config) *Fleet {
	return &Fleet{
		tasks:      make(map[string]*task),
		emitter:    emitter,
		config:     config.withDefaults(),
		newBackend: newFSNotifyBackend,
	}
}

// WatchFile watches a single file and emits eventName on changes to it.
func (f *Fleet) WatchFile(path, eventName string) error {
	return f.watch(path, eventName, KindFile)
}

// WatchDirectory watches a directory tree and emits eventName on changes
// to relevant files anywhere below it.
func (f *Fleet) WatchDirectory(path, eventName string) error {
	return f.watch(path, eventName, KindDirectory)
}

func (f *Fleet) watch(path, eventName string, kind Kind) error {
	if eventName == "" {
		return apperr.Validation(path, "event_name", "must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	switch kind {
	case KindDirectory:
		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return apperr.NotFound("directory", abs)
			}
			return fmt.Errorf("failed to stat %s: %v: %w", abs, err, apperr.ErrIO)
		}
		if !info.IsDir() {
			return apperr.Validation(abs, "", "not a directory")
		}
	case KindFile:
		if _, err := os.Stat(filepath.Dir(abs)); err != nil {
			return apperr.NotFound("directory", filepath.Dir(abs))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		eventName:  eventName,
		path:       abs,
		kind:       kind,
		config:     f.config,
		emitter:    f.emitter,
		newBackend: f.newBackend,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	f.mu.Lock()
	existing, ok := f.tasks[eventName]
	if ok && existing.path == abs && existing.kind == kind && existing.running() {
		f.mu.Unlock()
		cancel()
		f.config.Logger.Printf("Watcher %s already running for %s", eventName, abs)
		return nil
	}
	// Replace under the lock; concurrent callers must never both start.
	f.tasks[eventName] = t
	go t.run(ctx)
	f.mu.Unlock()

	if ok {
		existing.stop()
	}
	f.config.Logger.Printf("Watching %s %s as %s", kind, abs, eventName)
	return nil
}

// Stop gracefully removes the watcher registered under eventName.
// Stopping an unknown watcher is a no-op.
func (f *Fleet) Stop(eventName string) error {
	f.mu.Lock()
	t, ok := f.tasks[eventName]
	if ok {
		delete(f.tasks, eventName)
	}
	f.mu.Unlock()

	if !ok {
		return nil
	}
	t.stop()
	f.config.Logger.Printf("Stopped watcher %s", eventName)
	return nil
}

// StopAll stops every registered watcher.
func (f *Fleet) StopAll() {
	f.mu.Lock()
	tasks := f.tasks
	f.tasks = make(map[string]*task)
	f.mu.Unlock()

	for _, t := range tasks {
		t.stop()
	}
}

// Exists reports whether a watcher is registered under eventName.
func (f *Fleet) Exists(eventName string) bool {
	f.mu.RLock()
	t, ok := f.tasks[eventName]
	f.mu.RUnlock()
	return ok && t.running()
}

// Health returns a snapshot of every registered watcher, sorted by name.
func (f *Fleet) Health() []Health {
	f.mu.RLock()
	out := make([]Health, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t.health())
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EventName < out[j].EventName })
	return out
}

// running reports whether the supervisor goroutine is still alive.
func (t *task) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *task) stop() {
	t.cancel()
	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
		t.config.Logger.Printf("Warning: watcher %s did not stop within 5s", t.eventName)
	}
}

func (t *task) health() Health {
	return Health{
		EventName:    t.eventName,
		Path:         t.path,
		Kind:         t.kind.String(),
		RestartCount: int(t.restartCount.Load()),
		IsActive:     t.active.Load() && t.running(),
		ErrorCount:   int(t.errorCount.Load()),
		Dropped:      t.dropped.Load(),
		LastEventAt:  t.lastEventAt.Load(),
	}
}
