package index

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// exitPollInterval is how often the watcher loop checks its exit flag
// while waiting for notifications.
const exitPollInterval = 10 * time.Millisecond

// Watcher bridges OS change notifications into the bus. It runs on its
// own goroutine for the watcher's whole lifetime, subscribed recursively
// to the root and non-recursively to the configuration file, and
// translates each notification into a typed bus send.
type Watcher struct {
	root       string
	configPath string
	bus        *Bus
	logger     *slog.Logger

	exitFlag atomic.Bool
	finished atomic.Bool
}

// StartWatcher subscribes to root and configPath and begins forwarding
// events. Subscription failures are logged and end the worker; the rest
// of the process keeps serving queries against a stale index.
func StartWatcher(root, configPath string, bus *Bus, logger *slog.Logger) *Watcher {
	w := &Watcher{
		root:       root,
		configPath: filepath.Clean(configPath),
		bus:        bus,
		logger:     logger,
	}

	go w.run()

	return w
}

// run owns the fsnotify handle. One worker, one send path: the same bus
// handle serves every notification, with no per-event setup.
func (w *Watcher) run() {
	defer w.finished.Store(true)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("unable to create filesystem watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.configPath); err != nil {
		w.logger.Error("unable to watch configuration file",
			"path", w.configPath, "error", err)

		return
	}

	if err := w.addRecursive(watcher, w.root); err != nil {
		w.logger.Error("unable to watch directory tree",
			"root", w.root, "error", err)

		return
	}

	w.logger.Info("file watcher running", "root", w.root, "config", w.configPath)

	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}

			w.handleEvent(watcher, ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			w.logger.Warn("filesystem watcher error", "error", err)

		case <-ticker.C:
			if w.exitFlag.Load() {
				w.logger.Info("file watcher exiting")
				return
			}
		}
	}
}

// addRecursive registers a watch on dir and every directory below it.
// fsnotify watches are per-directory, so recursion happens here and again
// in handleEvent when new directories appear.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.IsDir() {
			return nil
		}

		return watcher.Add(path)
	})
}

// handleEvent translates one OS notification into bus events. Create maps
// to Created, data writes map to Updated, Remove and Rename map to
// Removed; metadata-only notifications are dropped. A write to the
// configuration file additionally requests a config reload.
func (w *Watcher) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Write) && filepath.Clean(ev.Name) == w.configPath {
		w.bus.SendConfigReloaded(w.configPath)
	}

	relPath, err := filepath.Rel(w.root, ev.Name)
	if err != nil || relPath == "." || isOutsideRoot(relPath) {
		return
	}

	paths := []string{NormalizePath(relPath)}

	switch {
	case ev.Has(fsnotify.Create):
		// New directories need their own watch before their contents
		// start changing.
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if addErr := w.addRecursive(watcher, ev.Name); addErr != nil {
				w.logger.Warn("unable to watch new directory",
					"path", ev.Name, "error", addErr)
			}
		}

		w.bus.SendCreated(paths)

	case ev.Has(fsnotify.Write):
		w.bus.SendUpdated(paths)

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.bus.SendRemoved(paths)
	}
}

// isOutsideRoot reports whether a relative path escapes the watched root.
// The configuration file usually lives outside it and must not be indexed.
func isOutsideRoot(relPath string) bool {
	return relPath == ".." || len(relPath) >= 3 && relPath[:3] == "../"
}

// Finished reports whether the worker goroutine has returned.
func (w *Watcher) Finished() bool {
	return w.finished.Load()
}

// Stop raises the exit flag and polls Finished five times at 100 ms
// intervals; a worker still running after that triggers onTimeout.
func (w *Watcher) Stop(onTimeout func()) {
	w.exitFlag.Store(true)

	for i := 0; i < stopPollAttempts; i++ {
		if w.Finished() {
			return
		}

		time.Sleep(stopPollInterval)
	}

	if !w.Finished() {
		onTimeout()
	}
}
