package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the fallback cadence when filesystem notifications
// are unavailable (some network and overlay filesystems).
const pollInterval = 250 * time.Millisecond

// WaitForFile blocks until path exists, the timeout elapses, or ctx is
// cancelled. It prefers fsnotify events on the parent directory and
// degrades to polling when a watcher cannot be established.
func WaitForFile(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollForFile(ctx, path)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return pollForFile(ctx, path)
	}

	// Re-check after the watch is in place; the file may have appeared
	// between the Stat above and watcher.Add.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return pollForFile(ctx, path)
			}
			if event.Name == path && event.Op.Has(fsnotify.Create|fsnotify.Write) {
				return nil
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return pollForFile(ctx, path)
			}
			// Watcher errors are not fatal; the poll below still
			// notices the file.
		case <-time.After(pollInterval):
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s: %w", filepath.Base(path), ctx.Err())
		}
	}
}

func pollForFile(ctx context.Context, path string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s: %w", filepath.Base(path), ctx.Err())
		}
	}
}
