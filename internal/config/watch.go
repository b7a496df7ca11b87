package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file at path whenever it is written or replaced. When the
// blur settings in the file differ from the ones last read from it, they are
// applied to cfg and onChange, if set, is called with the freshly loaded
// file. Writes that leave the blur settings alone change nothing, so runtime
// changes made elsewhere survive unrelated edits. Watch blocks until ctx is
// done.
//
// The parent directory is watched rather than the file, since editors
// commonly save by renaming a temporary file over the original.
func Watch(ctx context.Context, path string, cfg *Config, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path for %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	last := cfg.GetBlur()
	if onDisk, err := loadFile(abs); err == nil {
		last = onDisk.GetBlur()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			fresh, err := loadFile(abs)
			if err != nil {
				// Truncated mid-save; the following write event carries the content.
				slog.Debug("config not readable yet", "path", abs, "err", err)
				continue
			}
			if err := fresh.Validate(); err != nil {
				slog.Warn("ignoring invalid config change", "path", abs, "err", err)
				continue
			}

			blur := fresh.GetBlur()
			if blur == last {
				continue
			}
			last = blur
			cfg.SetBlur(blur)
			slog.Info("config reloaded", "blur.enabled", blur.Enabled, "blur.radius", blur.Radius)
			if onChange != nil {
				onChange(fresh)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher", "err", err)
		}
	}
}
