package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mohitkumar/grcflow/logger"
	"go.uber.org/zap"
)

const DEFAULT_RELOAD_DEBOUNCE = 200 * time.Millisecond

// Watcher reloads a template directory into the registry whenever a file in
// it changes. Bursts of events within the debounce interval cause one reload.
type Watcher struct {
	registry *Registry
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	wg       *sync.WaitGroup
	mu       sync.Mutex
	timer    *time.Timer
	reloads  int
}

func NewWatcher(registry *Registry, dir string, debounce time.Duration, wg *sync.WaitGroup) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DEFAULT_RELOAD_DEBOUNCE
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		registry: registry,
		dir:      dir,
		debounce: debounce,
		watcher:  fw,
		stop:     make(chan struct{}),
		wg:       wg,
	}, nil
}

func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !hasTemplateExtension(event.Name) || event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debug("template file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
				w.schedule()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logger.Error("template watcher error", zap.String("dir", w.dir), zap.Error(err))
			case <-w.stop:
				return
			}
		}
	}()
	logger.Info("template watcher started", zap.String("dir", w.dir))
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	n, err := w.registry.LoadDir(context.Background(), w.dir)
	if err != nil {
		logger.Error("template reload failed", zap.String("dir", w.dir), zap.Error(err))
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	logger.Info("templates reloaded", zap.String("dir", w.dir), zap.Int("new_versions", n))
}

// Reloads returns how many reloads have run.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) Stop() error {
	close(w.stop)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
