// Package watcher turns raw filesystem notifications into debounced batches
// of FileEvent, coalesced according to the CREATE/MODIFY/DELETE rules in
// Debouncer. It is deliberately thin: the only contract the rest of the
// indexer relies on is "on change event, trigger a rescan" — the watcher
// does not itself decide what a change means for the index.
package watcher

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

// Watcher recursively watches a directory tree with fsnotify and emits
// debounced batches of FileEvent.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	rootPath  string
	ignore    func(relPath string) bool

	mu      sync.RWMutex
	stopped bool
}

// New creates a Watcher. ignore, if non-nil, is consulted with a
// root-relative path before an event is even debounced — callers typically
// pass a gitignore.Matcher.Match closure so ignored paths never reach the
// orchestrator.
func New(debounceWindow time.Duration, ignore func(relPath string) bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsw:       fsw,
		debouncer: NewDebouncer(debounceWindow),
		errors:    make(chan error, 10),
		ignore:    ignore,
	}, nil
}

// Start begins watching path recursively and blocks until ctx is cancelled
// or Stop is called.
func (w *Watcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.rootPath = absPath

	if err := w.addRecursive(absPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}
	relPath = filepath.ToSlash(relPath)

	isDir := false
	if info, statErr := os.Stat(event.Name); statErr == nil {
		isDir = info.IsDir()
	}

	if w.ignore != nil && w.ignore(relPath) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			_ = w.fsw.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// addRecursive registers every directory under root with fsnotify, skipping
// .git — fsnotify has no recursive mode, so new subdirectories are added as
// they're created (see handleEvent's OpCreate branch).
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		relPath, _ := filepath.Rel(root, path)
		if relPath != "." && strings.HasPrefix(relPath, ".git") {
			return fs.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
		slog.Warn("watcher error buffer full, dropping error", slog.String("error", err.Error()))
	}
}

// Output returns the channel of debounced event batches.
func (w *Watcher) Output() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns the channel of non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop releases the fsnotify watcher and the debouncer's output channel.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	w.debouncer.Stop()
	err := w.fsw.Close()
	close(w.errors)
	return err
}
