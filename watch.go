package pyindex

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/pyindex/internal/runtime"
)

// defaultDebounce applies when Watch is given no debounce.
const defaultDebounce = 300 * time.Millisecond

// Watch keeps the index of root current until ctx is cancelled. Changed
// source files are collected for debounce after the last event and then
// reindexed together; files that no longer exist are removed.
func (e *Engine) Watch(ctx context.Context, root string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("pyindex: watch: %w", err)
	}
	defer watcher.Close()

	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("pyindex: watch: %w", err)
	}
	gi := loadGitignore(root)

	ignored := func(path string) bool {
		name := filepath.Base(path)
		if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
			return true
		}
		if gi == nil || path == root {
			return false
		}
		rel, err := filepath.Rel(root, path)
		return err == nil && gi.MatchesPath(filepath.ToSlash(rel)+"/")
	}

	count := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil // Skip errors
		}
		if ignored(path) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			e.logger.Debug("watch failed", "path", path, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("pyindex: watch: %w", err)
	}
	e.logger.Info("watching", "root", root, "directories", count)

	// pending and timer are only touched by this goroutine; the timer
	// signals through flushCh.
	var (
		pending = make(map[string]bool)
		timer   *time.Timer
	)
	flushCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Handle new directories
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !ignored(event.Name) {
						if err := watcher.Add(event.Name); err != nil {
							e.logger.Debug("watch failed", "path", event.Name, "error", err)
						}
					}
					continue
				}
			}
			if _, ok := runtime.SourceKindForFile(event.Name); !ok {
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}

			pending[event.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case flushCh <- struct{}{}:
				default:
				}
			})

		case <-flushCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]bool)
			e.flushChanges(ctx, paths)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Error("watcher error", "error", err)
		}
	}
}

// flushChanges reindexes the paths that still exist and removes the rest.
func (e *Engine) flushChanges(ctx context.Context, paths []string) {
	sort.Strings(paths)
	var present, gone []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		} else {
			gone = append(gone, p)
		}
	}
	if len(gone) > 0 {
		if err := e.RemoveFiles(gone); err != nil {
			e.logger.Warn("remove failed", "error", err)
		}
	}
	if len(present) > 0 {
		if err := e.IndexFiles(ctx, present); err != nil {
			e.logger.Warn("reindex failed", "error", err)
		}
	}
	e.logger.Debug("flushed changes", "indexed", len(present), "removed", len(gone))
}
