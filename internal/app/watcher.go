package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	labimage "lab-counter/internal/image"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FolderWatcher reports new image files that appear in a directory. A file
// is reported once it has been quiet for the debounce interval, so images
// still being copied are not picked up half written.
type FolderWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	pending  map[string]time.Time
	seen     map[string]bool
	onImage  func(path string)
	log      *zap.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewFolderWatcher creates a watcher for dir. onImage is called from the
// watcher goroutine; callers marshal onto the UI loop themselves.
func NewFolderWatcher(dir string, debounce time.Duration, onImage func(path string), log *zap.Logger) (*FolderWatcher, error) {
	if onImage == nil {
		return nil, errors.New("folder watcher needs a callback")
	}
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &FolderWatcher{
		watcher:  w,
		dir:      dir,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		seen:     make(map[string]bool),
		onImage:  onImage,
		log:      log.Named("watcher").With(zap.String("dir", dir)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the directory is registered.
func (fw *FolderWatcher) Start(ctx context.Context) error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = true
	fw.mu.Unlock()

	if err := fw.watcher.Add(fw.dir); err != nil {
		fw.mu.Lock()
		fw.running = false
		fw.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", fw.dir, err)
	}
	fw.log.Info("watching folder")

	go fw.run(ctx)
	return nil
}

// Stop stops the watcher goroutine and releases the watch.
func (fw *FolderWatcher) Stop() {
	fw.mu.Lock()
	running := fw.running
	fw.running = false
	fw.mu.Unlock()

	if running {
		close(fw.stopCh)
		<-fw.doneCh
	}
	if err := fw.watcher.Close(); err != nil {
		fw.log.Warn("error closing watcher", zap.Error(err))
	}
}

func (fw *FolderWatcher) run(ctx context.Context) {
	defer close(fw.doneCh)

	tick := fw.debounce / 4
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopCh:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Warn("watch error", zap.Error(err))
		case now := <-ticker.C:
			fw.flush(now)
		}
	}
}

func (fw *FolderWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !labimage.IsSupportedFormat(event.Name) {
		return
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.seen[event.Name] {
		return
	}
	fw.pending[event.Name] = time.Now()
}

func (fw *FolderWatcher) flush(now time.Time) {
	var ready []string
	fw.mu.Lock()
	for path, last := range fw.pending {
		if now.Sub(last) >= fw.debounce {
			ready = append(ready, path)
			delete(fw.pending, path)
			fw.seen[path] = true
		}
	}
	fw.mu.Unlock()

	for _, path := range ready {
		fw.log.Debug("new image", zap.String("path", path))
		fw.onImage(path)
	}
}
