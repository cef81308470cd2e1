package defs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 500 * time.Millisecond

// ChangeHandler receives definitions that were rewritten on disk. Files that
// fail to parse are logged and skipped, so a half-saved edit never reaches
// the handler.
type ChangeHandler func(files []*File)

// Watcher monitors the definitions directory and reloads files as they
// change. Changes are debounced so editors that write in several steps
// produce a single reload.
type Watcher struct {
	loader  *Loader
	baseDir string
	fsw     *fsnotify.Watcher
	handler ChangeHandler
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher over baseDir on the real filesystem.
func NewWatcher(baseDir string, handler ChangeHandler, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		loader:  NewOsLoader(baseDir),
		baseDir: baseDir,
		fsw:     fsw,
		handler: handler,
		log:     log,
		pending: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins watching for definition changes.
func (w *Watcher) Start() error {
	if err := w.addWatchRecursive(w.baseDir); err != nil {
		return fmt.Errorf("add watch paths: %w", err)
	}

	w.wg.Add(1)
	go w.eventLoop()

	w.log.Info("watching workflow definitions", "dir", w.baseDir)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.fsw.Close()

	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		// New subdirectories need their own watch.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !IsDefinitionFile(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	var files []*File
	for _, path := range paths {
		file, err := w.loader.LoadFile(path)
		if err != nil {
			w.log.Warn("skipping changed definition", "path", path, "error", err)
			continue
		}
		files = append(files, file)
	}

	if len(files) > 0 && w.handler != nil {
		w.handler(files)
	}
}

func (w *Watcher) addWatchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); strings.HasPrefix(name, ".") && path != dir {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
