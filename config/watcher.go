package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file whenever it changes and hands
// the result to a callback. Reload errors go to an optional error
// callback; a file deleted mid-watch is reported as a nil *File.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	onLoad func(*File)
	onErr  func(error)

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithErrorHandler sets the callback for reload and watch errors.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onErr = fn
	}
}

// Watch starts watching path and calls onLoad with every successfully
// reloaded file. The parent directory is watched rather than the file
// itself, so editors that replace the file atomically keep triggering
// reloads.
func Watch(path string, onLoad func(*File), opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:    filepath.Clean(path),
		watcher: fsw,
		onLoad:  onLoad,
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			f, err := Load(w.path)
			if err != nil {
				w.reportError(err)
				continue
			}
			w.onLoad(f)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

func (w *Watcher) reportError(err error) {
	if w.onErr != nil {
		w.onErr(err)
	}
}

// Close stops the watcher and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.doneCh
	})
	return err
}
