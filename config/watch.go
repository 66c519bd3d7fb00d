package config

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/m4xw311/conch/errors"
)

// Watch reloads the config file whenever it changes on disk and hands the
// result to onChange. conchd uses this to pick up allowlist and log-level
// edits without a restart. The returned stop function releases the watcher.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file (rename-over-write) keep triggering events.
func Watch(path string, onChange func(*Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create config watcher")
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", dir)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadFile(target)
				if err != nil {
					log.Printf("config: reload of %s failed: %v", target, err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", err)
			}
		}
	}()

	return watcher.Close, nil
}
