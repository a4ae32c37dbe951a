package luahost

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alexisbeaulieu97/conductor/internal/logger"
)

const (
	reloadDebounce = 500 * time.Millisecond
	rewatchDelay   = time.Second
)

// Watcher reloads plugin scripts when their files change on disk. Rapid
// save bursts collapse into a single reload per file.
type Watcher struct {
	host      *Host
	log       *logger.Logger
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	mu      sync.Mutex
	watched map[string]struct{}
	timers  map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher that reloads plugins through the host.
func NewWatcher(host *Host, log *logger.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		host:      host,
		log:       log,
		fsWatcher: fsWatcher,
		debounce:  reloadDebounce,
		watched:   make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Add starts watching a plugin script file.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(abs); err != nil {
		return err
	}
	w.mu.Lock()
	w.watched[abs] = struct{}{}
	w.mu.Unlock()
	return nil
}

// Start launches the event loop.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
}

// Stop cancels the event loop and waits for it to drain.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()

	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			_, tracked := w.watched[event.Name]
			w.mu.Unlock()
			if !tracked {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.scheduleReload(event.Name)
			} else if event.Op&fsnotify.Remove == fsnotify.Remove ||
				event.Op&fsnotify.Rename == fsnotify.Rename {
				w.log.Warn("plugin file removed or renamed; waiting for it to reappear")
				// Editors that replace the file on save drop the watch;
				// re-add once the new inode settles.
				path := event.Name
				time.AfterFunc(rewatchDelay, func() {
					if err := w.fsWatcher.Add(path); err == nil {
						w.scheduleReload(path)
					}
				})
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "plugin watcher error")
		}
	}
}

func (w *Watcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		if _, err := w.host.Reload(path); err != nil {
			w.log.Error(err, "plugin reload failed")
			return
		}
		w.log.Info("plugin reloaded")
	})
}
