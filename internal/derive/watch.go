package derive

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long the inputs must stay quiet before onChange fires, so a
// burst of writes to one table triggers a single re-derivation.
const settle = 500 * time.Millisecond

// Watch monitors the given input files and calls onChange once they have
// been written and then left alone for a short while. It runs until ctx is
// cancelled.
//
// The parent directories are watched rather than the files themselves:
// tables are replaced by rename, which would drop a per-file watch.
func Watch(ctx context.Context, paths []string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		wanted[filepath.Clean(p)] = true
		dir := filepath.Dir(p)
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	slog.Info("derive: watching inputs for changes", "files", len(paths))

	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !wanted[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			slog.Debug("derive: input changed", "path", event.Name, "op", event.Op.String())
			timer.Reset(settle)

		case <-timer.C:
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("derive: watcher error", "err", err)
		}
	}
}
