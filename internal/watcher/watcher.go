package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned when operations are called on a closed FileWatcher.
var ErrClosed = errors.New("watcher: watcher is closed")

// Op describes what happened to a watched file.
type Op uint32

const (
	// Changed covers create and write.
	Changed Op = 1 << iota
	// Removed covers remove and rename away.
	Removed
)

// Event is a coalesced change notification for one watched file.
type Event struct {
	Path string
	Op   Op
}

// Handler receives the events collected during one debounce window.
type Handler func(events []Event)

// ErrorHandler is called when fsnotify reports an error.
type ErrorHandler func(err error)

// FileWatcher watches individual files for changes.
//
// Editors usually save by writing a temp file and renaming it over the
// original, which drops an inotify watch placed on the file itself. The
// watcher therefore watches each file's parent directory and filters by
// name.
type FileWatcher struct {
	fs           *fsnotify.Watcher
	debouncer    *Debouncer
	handler      Handler
	errorHandler ErrorHandler

	mu      sync.Mutex
	files   map[string]bool
	dirs    map[string]int
	pending map[string]Op
	closed  bool
	done    chan struct{}
}

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithDebounceDuration sets the debounce window for coalescing events.
func WithDebounceDuration(d time.Duration) Option {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debouncer = NewDebouncer(d)
		}
	}
}

// WithErrorHandler sets the error callback.
func WithErrorHandler(h ErrorHandler) Option {
	return func(w *FileWatcher) {
		w.errorHandler = h
	}
}

// New creates a FileWatcher that delivers debounced events to handler.
func New(handler Handler, opts ...Option) (*FileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &FileWatcher{
		fs:        fsw,
		debouncer: NewDebouncer(DefaultDebounceDuration),
		handler:   handler,
		files:     make(map[string]bool),
		dirs:      make(map[string]int),
		pending:   make(map[string]Op),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w, nil
}

// Add starts watching path. The file does not have to exist yet but its
// directory does.
func (w *FileWatcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.files[abs] {
		return nil
	}
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[abs] = true
	return nil
}

// Remove stops watching path.
func (w *FileWatcher) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if !w.files[abs] {
		return nil
	}
	delete(w.files, abs)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		return w.fs.Remove(dir)
	}
	return nil
}

// Close stops the watcher. Pending events are discarded.
func (w *FileWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.debouncer.Cancel()
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *FileWatcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if w.errorHandler != nil {
				w.errorHandler(err)
			}
		}
	}
}

func (w *FileWatcher) handle(ev fsnotify.Event) {
	var op Op
	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		op = Changed
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		op = Removed
	default:
		return
	}
	name := filepath.Clean(ev.Name)

	w.mu.Lock()
	if w.closed || !w.files[name] {
		w.mu.Unlock()
		return
	}
	w.pending[name] |= op
	w.mu.Unlock()

	w.debouncer.Trigger(w.deliver)
}

func (w *FileWatcher) deliver() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	events := make([]Event, 0, len(w.pending))
	for path, op := range w.pending {
		// A rename-over save shows as remove then create; report the
		// file as changed when it exists again.
		if op&Removed != 0 && op&Changed != 0 {
			if _, err := os.Stat(path); err == nil {
				op = Changed
			}
		}
		events = append(events, Event{Path: path, Op: op})
	}
	w.pending = make(map[string]Op)
	w.mu.Unlock()

	if w.handler != nil {
		w.handler(events)
	}
}
