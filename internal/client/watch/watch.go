// Package watch turns file system changes into storage events on the bus.
// It is used to notice a session file written by another process (login or
// logout from a second terminal).
package watch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/iudanet/jobsync/internal/client/events"
)

// Source identifies events published by the watcher
const Source = "watch"

// Watcher publishes events.Storage when a watched file changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	bus     *events.Bus
	logger  *slog.Logger
	files   map[string]string // абсолютный путь -> ключ события
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a watcher. Call Add for each file, then Start.
func New(bus *events.Bus, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: w,
		bus:     bus,
		logger:  logger,
		files:   make(map[string]string),
		done:    make(chan struct{}),
	}, nil
}

// Add watches path and reports its changes under key.
// The parent directory is watched rather than the file itself: files saved
// via rename replace the inode, which would silently end a per-file watch.
func (w *Watcher) Add(path, key string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	w.files[abs] = key
	return nil
}

// Start begins processing file system events
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.running = true

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and waits for the event loop to exit
func (w *Watcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.done)
	}

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if key, ok := w.match(event); ok {
				w.logger.Debug("Watched file changed", "path", event.Name, "op", event.Op.String())
				w.bus.Publish(events.Event{Kind: events.Storage, Key: key, Source: Source})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

// match returns the key of a watched file affected by event
func (w *Watcher) match(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		// chmod и прочее игнорируем
		return "", false
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return "", false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	key, ok := w.files[abs]
	return key, ok
}
