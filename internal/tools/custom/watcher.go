package custom

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watch reloads tools when their directories change on disk. Events are
// debounced per tool so an editor writing several files triggers one reload.
// Blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return err
	}

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		if timer, ok := timers[name]; ok {
			timer.Reset(reloadDebounce)
			return
		}
		timers[name] = time.AfterFunc(reloadDebounce, func() {
			mu.Lock()
			delete(timers, name)
			mu.Unlock()
			l.reloadFromDisk(ctx, name)
		})
	}

	// Reconcile once the watches are armed: tool directories that appeared
	// or vanished before this point produced no events.
	onDisk := make(map[string]bool)
	entries, _ := os.ReadDir(l.dir)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		watcher.Add(filepath.Join(l.dir, entry.Name()))
		if name := entry.Name(); toolNameRe.MatchString(name) {
			onDisk[name] = true
		}
	}
	loaded := make(map[string]bool)
	for _, name := range l.Loaded() {
		loaded[name] = true
	}
	for name := range onDisk {
		if !loaded[name] {
			schedule(name)
		}
	}
	for name := range loaded {
		if !onDisk[name] {
			schedule(name)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := l.toolNameFor(event.Name)
			if name == "" {
				continue
			}
			// A new tool directory needs its own watch for the tool.py
			// that follows.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					watcher.Add(event.Name)
				}
			}
			schedule(name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn(ctx, "tool watcher error", "error", err)
		}
	}
}

// toolNameFor maps an event path to the tool directory it belongs to.
// Returns "" for paths outside any tool directory (e.g. the runner script).
func (l *Loader) toolNameFor(path string) string {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	name := strings.Split(filepath.ToSlash(rel), "/")[0]
	if !toolNameRe.MatchString(name) {
		return ""
	}
	return name
}

// reloadFromDisk loads the tool if its source still exists, otherwise
// unloads it.
func (l *Loader) reloadFromDisk(ctx context.Context, name string) {
	if _, err := os.Stat(filepath.Join(l.dir, name, "tool.py")); err != nil {
		l.Unload(name)
		l.logger.Info(ctx, "custom tool removed", "tool", name)
		return
	}
	if err := l.Load(ctx, name); err != nil {
		l.logger.Warn(ctx, "custom tool reload failed", "tool", name, "error", err)
	}
}
