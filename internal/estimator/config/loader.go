package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Loader owns the current calibration and reloads it when the file changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  Calibration
	watcher  *fsnotify.Watcher
	onChange []func(Calibration)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
}

// NewLoader creates a loader for path. An empty path serves the defaults.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		current: Default(),
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load reads the file and makes it current.
func (l *Loader) Load() (Calibration, error) {
	cal, err := Load(l.path)
	if err != nil {
		return cal, err
	}
	l.mu.Lock()
	l.current = cal
	l.mu.Unlock()
	return cal, nil
}

// Current returns the last successfully loaded calibration.
func (l *Loader) Current() Calibration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch starts watching the file's directory. Writes are debounced; an invalid
// file is reported on Errors and the current calibration is kept.
func (l *Loader) Watch() error {
	if l.path == "" {
		return errors.New("calibration: nothing to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = watcher
	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case <-l.ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, l.reload)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) reload() {
	cal, err := Load(l.path)
	if err != nil {
		l.report(fmt.Errorf("reload calibration: %w", err))
		return
	}
	l.mu.Lock()
	l.current = cal
	callbacks := make([]func(Calibration), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, cb := range callbacks {
		cb(cal)
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// OnChange registers a callback invoked after each successful reload.
func (l *Loader) OnChange(cb func(Calibration)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, cb)
	l.mu.Unlock()
}

// Errors reports watch and reload failures. Errors are dropped while the
// channel is full.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops watching.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
