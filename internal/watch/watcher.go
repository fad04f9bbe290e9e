package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/walker"
)

// Watcher anonymizes files dropped into a source directory. Each new or
// rewritten entry is processed into the target directory after a debounce
// delay, so editors and downloads that write in bursts are not picked up
// half-written. Files already present when the watcher starts are
// processed as well.
type Watcher struct {
	source   string
	target   string
	walk     *walker.Walker
	debounce time.Duration
	notifier *fsnotify.Watcher
	logger   *logger.Logger

	mu       sync.Mutex
	pending  map[string]*time.Timer
	inflight sync.WaitGroup
	running  bool
	ctx      context.Context
	stopCh   chan struct{}

	// OnProcessed, when set, receives each processed path and the outcome.
	OnProcessed func(path string, err error)
}

// New creates a drop-folder watcher. The target directory is created if
// needed and may not live inside the watched directory.
func New(source, target string, walk *walker.Walker, debounce time.Duration, log *logger.Logger) (*Watcher, error) {
	absSource, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path: %w", err)
	}
	info, err := os.Stat(absSource)
	if err != nil {
		return nil, fmt.Errorf("source path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path must be a directory")
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target path: %w", err)
	}
	if rel, err := filepath.Rel(absSource, absTarget); err == nil && !strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("target directory cannot be inside the watched directory")
	}
	if err := os.MkdirAll(absTarget, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if debounce <= 0 {
		debounce = time.Second
	}

	return &Watcher{
		source:   absSource,
		target:   absTarget,
		walk:     walk,
		debounce: debounce,
		notifier: notifier,
		logger:   log,
		pending:  make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching the source directory and schedules everything
// already in it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	if err := w.notifier.Add(w.source); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", w.source, err)
	}

	w.logger.Info("Watching drop folder",
		zap.String("source", w.source),
		zap.String("target", w.target),
		zap.Duration("debounce", w.debounce),
	)

	entries, err := os.ReadDir(w.source)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.source, err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		w.schedule(filepath.Join(w.source, entry.Name()))
	}

	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher, cancels everything still pending, and waits
// for files already being processed.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for path, timer := range w.pending {
		if timer.Stop() {
			w.inflight.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	close(w.stopCh)
	err := w.notifier.Close()
	w.inflight.Wait()
	return err
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))

		case <-w.stopCh:
			w.logger.Info("Watcher stopped")
			return

		case <-ctx.Done():
			w.logger.Info("Watcher context cancelled")
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Dotfiles are editor droppings, never research data.
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.cancel(event.Name)
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	w.logger.Debug("Drop folder event",
		zap.String("event", event.Op.String()),
		zap.String("path", event.Name),
	)
	w.schedule(event.Name)
}

// schedule arms the debounce timer for a path, resetting any earlier
// one. The inflight count follows the armed timer: a stopped timer hands
// its count to the replacement, a fired one settles its own.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if timer, ok := w.pending[path]; !ok || !timer.Stop() {
		w.inflight.Add(1)
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.process(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		if timer.Stop() {
			w.inflight.Done()
		}
		delete(w.pending, path)
	}
}

func (w *Watcher) process(path string) {
	defer w.inflight.Done()

	w.mu.Lock()
	delete(w.pending, path)
	ctx := w.ctx
	running := w.running
	w.mu.Unlock()

	if !running {
		return
	}
	if _, err := os.Stat(path); err != nil {
		w.logger.Debug("Dropped file vanished before processing", zap.String("path", path))
		return
	}

	w.logger.Info("Processing dropped file", zap.String("path", path))
	err := w.walk.Run(ctx, path, w.target)
	if err != nil {
		w.logger.Error("Failed to process dropped file",
			zap.String("path", path),
			zap.Error(err),
		)
	}
	if w.OnProcessed != nil {
		w.OnProcessed(path, err)
	}
}
