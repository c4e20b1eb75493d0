package auth

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads list from path every time the file is written or recreated.
// The parent directory is watched so atomic rename saves keep reloading.
// It blocks until ctx is cancelled.
//
// A reload that fails to parse is logged and the previous entries stay active.
func Watch(ctx context.Context, path string, list *Allowlist, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if _, err := os.Stat(target); err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	logger.Info("allowlist: watching for changes", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// Editors that save atomically show up as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			reload(target, list, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("allowlist: watcher error", zap.Error(err))
		}
	}
}

func reload(path string, list *Allowlist, logger *zap.Logger) bool {
	names, err := LoadFile(path)
	if err != nil {
		logger.Error("allowlist: reload failed, keeping previous entries",
			zap.String("path", path), zap.Error(err))
		return false
	}
	list.Replace(names)
	logger.Info("allowlist: reloaded",
		zap.String("path", path), zap.Int("requestors", len(list.Names())))
	return true
}
