package settings

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls onChange after the settings file is written by anyone,
// including other processes such as cmdimectl. Bursts are debounced.
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration

	fsWatcher *fsnotify.Watcher
	errors    chan error
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewWatcher prepares a watcher for the store's file.
func NewWatcher(store *Store, onChange func()) *Watcher {
	return &Watcher{
		path:     store.Path(),
		onChange: onChange,
		debounce: 100 * time.Millisecond,
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}
}

// Errors returns watcher errors. Errors are dropped when the buffer is full.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching. The directory is watched, not the file, because
// atomic saves replace the file.
func (w *Watcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("watch settings directory: %w", err)
	}
	w.fsWatcher = fsWatcher

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	name := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.fire)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) fire() {
	select {
	case <-w.done:
		return
	default:
	}
	w.onChange()
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
		w.wg.Wait()
	})
	return err
}
