// Package watcher provides the filesystem watcher fleet.
//
// Each watcher observes either a single file (the database, the project
// registry) or a directory tree (a project's .bluekit/) and, after one or
// more relevant changes, emits its event name once per debounce window.
//
// # Event flow
//
// fsnotify delivers OS events to a pump goroutine that filters them and
// forwards them into a bounded channel without blocking; when the channel
// is full the event is dropped with a warning. The watcher loop drains the
// channel and emits one aggregated notification after the channel has been
// quiet for the debounce window.
//
// # Recovery
//
// Watcher errors are counted; the Nth consecutive error tears the watcher
// down. A torn-down or crashed watcher restarts with exponential backoff
// (base, 2·base, 4·base, ...) up to the restart budget, after which it
// emits "<event>-fatal" and stops. Each recoverable failure is reported
// as "<event>-error".
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bluekit-app/bluekit/internal/artifact"
)

// Kind is the kind of target a watcher observes.
type Kind int

const (
	// KindFile watches a single file.
	KindFile Kind = iota
	// KindDirectory watches a directory tree recursively.
	KindDirectory
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Emitter receives watcher notifications. Implementations must not block
// for long; the watcher loop calls Emit synchronously.
type Emitter interface {
	Emit(name string, payload any)
}

// ChangePayload is emitted with "<event>" notifications.
type ChangePayload struct {
	Paths []string `json:"paths"`
}

// ErrorPayload is emitted with "<event>-error" and "<event>-fatal".
type ErrorPayload struct {
	Error        string `json:"error"`
	RestartCount int    `json:"restart_count"`
}

// ErrorSuffix and FatalSuffix are appended to the event name for
// recoverable and terminal failures.
const (
	ErrorSuffix = "-error"
	FatalSuffix = "-fatal"
)

// Config holds watcher tuning.
type Config struct {
	// Debounce is the quiet period after which batched events emit once.
	Debounce time.Duration

	// ChannelSize bounds the queue between the OS callback and the loop.
	ChannelSize int

	// MaxErrors is the number of consecutive errors that tears a watcher down.
	MaxErrors int

	// MaxRestarts is the restart budget before the fatal event.
	MaxRestarts int

	// RestartBase is the first restart delay; it doubles per attempt.
	RestartBase time.Duration

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:    300 * time.Millisecond,
		ChannelSize: 100,
		MaxErrors:   10,
		MaxRestarts: 5,
		RestartBase: time.Second,
		Logger:      log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Debounce <= 0 {
		out.Debounce = d.Debounce
	}
	if out.ChannelSize <= 0 {
		out.ChannelSize = d.ChannelSize
	}
	if out.MaxErrors <= 0 {
		out.MaxErrors = d.MaxErrors
	}
	if out.MaxRestarts < 0 {
		out.MaxRestarts = d.MaxRestarts
	}
	if out.RestartBase <= 0 {
		out.RestartBase = d.RestartBase
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	return &out
}

// backend abstracts the OS notification source.
type backend interface {
	Add(name string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

type fsnotifyBackend struct {
	w *fsnotify.Watcher
}

func newFSNotifyBackend() (backend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &fsnotifyBackend{w: w}, nil
}

func (b *fsnotifyBackend) Add(name string) error         { return b.w.Add(name) }
func (b *fsnotifyBackend) Events() <-chan fsnotify.Event { return b.w.Events }
func (b *fsnotifyBackend) Errors() <-chan error          { return b.w.Errors }
func (b *fsnotifyBackend) Close() error                  { return b.w.Close() }

// errTooManyErrors is returned by a run when the consecutive error budget
// is exhausted.
var errTooManyErrors = errors.New("too many consecutive watcher errors")

// errStreamClosed is reported when the backend closes a channel under a
// running watcher.
var errStreamClosed = errors.New("notification stream closed")

// task is a single registered watcher.
type task struct {
	eventName string
	path      string
	kind      Kind

	config     *Config
	emitter    Emitter
	newBackend func() (backend, error)

	cancel context.CancelFunc
	done   chan struct{}

	restartCount atomic.Int32
	errorCount   atomic.Int32
	dropped      atomic.Int64
	active       atomic.Bool
	lastEventAt  atomic.Int64 // unix millis
}

// run supervises the watcher: it restarts failed runs with exponential
// backoff until the budget is spent or ctx is cancelled.
func (t *task) run(ctx context.Context) {
	defer close(t.done)
	defer t.active.Store(false)

	logger := t.config.Logger
	for {
		established, err := t.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("watcher exited unexpectedly")
		}
		// The budget counts consecutive failed starts; a run that got its
		// targets registered earns a fresh one.
		if established {
			t.restartCount.Store(0)
		}

		attempt := int(t.restartCount.Load())
		if attempt >= t.config.MaxRestarts {
			logger.Printf("Watcher %s exhausted %d restarts: %v", t.eventName, t.config.MaxRestarts, err)
			t.emitter.Emit(t.eventName+FatalSuffix, ErrorPayload{
				Error:        err.Error(),
				RestartCount: attempt,
			})
			return
		}

		delay := t.config.RestartBase << attempt
		logger.Printf("Watcher %s failed (%v); restarting in %v (attempt %d/%d)",
			t.eventName, err, delay, attempt+1, t.config.MaxRestarts)
		t.emitter.Emit(t.eventName+ErrorSuffix, ErrorPayload{
			Error:        err.Error(),
			RestartCount: attempt,
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		t.restartCount.Add(1)
	}
}

// runOnce sets up a fresh backend and processes events until ctx is
// cancelled (nil) or the watcher fails (error). established reports
// whether the targets were registered before the run ended.
func (t *task) runOnce(ctx context.Context) (established bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watcher panic: %v", r)
		}
	}()

	b, err := t.newBackend()
	if err != nil {
		return false, err
	}
	defer b.Close()

	if err := t.addTargets(b); err != nil {
		return false, err
	}
	established = true

	t.errorCount.Store(0)
	t.active.Store(true)
	defer t.active.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan string, t.config.ChannelSize)
	pumpErr := make(chan error, 1)
	go t.pump(runCtx, b, queue, pumpErr)

	return true, t.loop(runCtx, queue, pumpErr)
}

// addTargets registers the watched paths with the backend. Files are
// watched through their parent directory so atomic-rename saves are seen.
func (t *task) addTargets(b backend) error {
	switch t.kind {
	case KindFile:
		dir := filepath.Dir(t.path)
		if err := b.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		return nil
	case KindDirectory:
		return filepath.WalkDir(t.path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := b.Add(p); err != nil {
				return fmt.Errorf("failed to watch %s: %w", p, err)
			}
			return nil
		})
	}
	return fmt.Errorf("unknown watcher kind %d", t.kind)
}

// pump is the OS-events callback: it filters events and forwards them
// into the bounded queue, dropping on overflow rather than blocking.
func (t *task) pump(ctx context.Context, b backend, queue chan<- string, pumpErr chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-b.Events():
			if !ok {
				t.report(ctx, pumpErr, errStreamClosed)
				return
			}

			// New subdirectories are added so the tree stays covered.
			if t.kind == KindDirectory && event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := b.Add(event.Name); err != nil {
						t.config.Logger.Printf("Watcher %s: failed to watch new directory %s: %v", t.eventName, event.Name, err)
					}
					continue
				}
			}

			if !t.relevant(event) {
				continue
			}

			select {
			case queue <- event.Name:
			default:
				n := t.dropped.Add(1)
				t.config.Logger.Printf("Warning: watcher %s channel full, dropping event for %s (dropped=%d)", t.eventName, event.Name, n)
			}

		case err, ok := <-b.Errors():
			if !ok {
				t.report(ctx, pumpErr, errStreamClosed)
				return
			}
			t.report(ctx, pumpErr, err)
		}
	}
}

func (t *task) report(ctx context.Context, pumpErr chan<- error, err error) {
	select {
	case pumpErr <- err:
	case <-ctx.Done():
	}
}

// relevant filters events down to the files this watcher reports on.
func (t *task) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	switch t.kind {
	case KindFile:
		name := filepath.Base(event.Name)
		target := filepath.Base(t.path)
		return name == target || name == target+"-wal"
	case KindDirectory:
		return artifact.IsWatchedFile(event.Name)
	}
	return false
}

// loop debounces queued events and handles watcher errors.
func (t *task) loop(ctx context.Context, queue <-chan string, pumpErr <-chan error) error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = map[string]struct{}{}
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case p := <-queue:
			pending[p] = struct{}{}
			t.errorCount.Store(0)
			if timer == nil {
				timer = time.NewTimer(t.config.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(t.config.Debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = map[string]struct{}{}
			t.lastEventAt.Store(time.Now().UnixMilli())
			t.emitter.Emit(t.eventName, ChangePayload{Paths: paths})

		case err := <-pumpErr:
			n := int(t.errorCount.Add(1))
			t.config.Logger.Printf("Watcher %s error (%d/%d): %v", t.eventName, n, t.config.MaxErrors, err)
			if n >= t.config.MaxErrors || errors.Is(err, errStreamClosed) {
				return fmt.Errorf("%w: %v", errTooManyErrors, err)
			}
			t.emitter.Emit(t.eventName+ErrorSuffix, ErrorPayload{
				Error:        err.Error(),
				RestartCount: int(t.restartCount.Load()),
			})
		}
	}
}
