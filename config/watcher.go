package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"imager/video/levels"
)

// settle is how long to wait after a change before reading the file, so that
// editors writing in several steps are seen once.
const settle = time.Second / 10

// WatchLevels reloads the file at path whenever it changes and publishes its
// level window to live. Other settings only take effect on the next run.
// Watching stops when ctx is cancelled.
func WatchLevels(ctx context.Context, path string, live *levels.Live) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so that files replaced by rename are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	name := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			if err := waitForChange(ctx, watcher, name); err != nil {
				if ctx.Err() == nil {
					log.Errorf("Error waiting for file change: %v", err)
				}
				return
			}
			if err := reloadLevels(path, live); err != nil {
				log.Errorf("Failed to load new config: %v", err)
			}
		}
	}()
	return nil
}

func waitForChange(ctx context.Context, watcher *fsnotify.Watcher, name string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-watcher.Errors:
			return err
		case ev, ok := <-watcher.Events:
			if !ok {
				return context.Canceled
			}
			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
		}
		break
	}

	t := time.NewTimer(settle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-watcher.Events:
			if !ok {
				return context.Canceled
			}
		case <-t.C:
			return nil
		}
	}
}

func reloadLevels(path string, live *levels.Live) error {
	fc, err := LoadFileConfig(path)
	if err != nil {
		return err
	}
	cur, _ := live.Load()
	low, high := int(cur.Low), int(cur.High)
	if fc.LevelMin != nil {
		low = *fc.LevelMin
	}
	if fc.LevelMax != nil {
		high = *fc.LevelMax
	}
	w, err := levels.NewWindow(low, high)
	if err != nil {
		return err
	}
	if live.Set(w) {
		log.Infof("Level window changed to %v", w)
	}
	return nil
}
