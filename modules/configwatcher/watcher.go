package configwatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/magkernel/logging"
)

// Watcher calls onChange once a file has been quiet for the debounce
// interval after a write, create, rename or remove. The parent directory is
// watched so editors that replace the file on save are still seen.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context)
	logger   logging.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a stopped watcher for path.
func NewWatcher(path string, debounce time.Duration, logger logging.Logger, onChange func(ctx context.Context)) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logging.OrNop(logger),
	}
}

// Start begins watching. The loop outlives ctx's deadline but not its
// cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return ErrAlreadyWatching
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, fw, w.done)

	w.logger.Info("Watching config file", "path", w.path, "debounce", w.debounce)
	return nil
}

// Stop ends the loop and waits for an in-flight reload to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fw, cancel, done := w.watcher, w.cancel, w.done
	w.watcher, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()

	if fw == nil {
		return nil
	}
	cancel()
	err := fw.Close()
	<-done
	return err
}

// Running reports whether the loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watcher != nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			w.logger.Debug("Config file changed", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-timer.C:
			w.onChange(ctx)
		}
	}
}
