package index

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Stop polling protocol shared by the daemon and the watcher: after asking
// a worker to stop, the owner checks Finished five times at 100 ms
// intervals before giving up and invoking its timeout callback.
const (
	stopPollAttempts = 5
	stopPollInterval = 100 * time.Millisecond
)

// ReloadFunc re-parses the configuration file at path and swaps the access
// pool on success. Injected by the caller so the index package stays
// ignorant of the config format.
type ReloadFunc func(path string) error

// Daemon is the single owner of the store handle. It drains the bus in
// strict arrival order, so the store never sees a second writer and any
// query observes every mutation whose event arrived before it.
type Daemon struct {
	store    *Store
	bus      *Bus
	reload   ReloadFunc
	logger   *slog.Logger
	finished atomic.Bool
}

// NewDaemon creates a Daemon owning store. reload may be nil when config
// hot-reload is not wired (tests).
func NewDaemon(store *Store, bus *Bus, reload ReloadFunc, logger *slog.Logger) *Daemon {
	return &Daemon{
		store:  store,
		bus:    bus,
		reload: reload,
		logger: logger,
	}
}

// Run processes events until a Terminate event or a store-level failure.
// Per-path I/O errors inside a batch are logged and skipped; store errors
// abort the loop because a half-applied index is worse than no daemon.
func (d *Daemon) Run() error {
	defer d.finished.Store(true)

	d.logger.Info("index daemon running")

	for ev := range d.bus.Events() {
		switch ev.Kind {
		case EventCreated, EventUpdated:
			if err := d.handleUpsert(ev); err != nil {
				return err
			}

		case EventRemoved:
			for _, p := range ev.Paths {
				if err := d.store.Delete(p); err != nil {
					return err
				}
			}

		case EventQuery:
			if err := d.handleQuery(ev); err != nil {
				return err
			}

		case EventConfigReloaded:
			d.handleConfigReload(ev.ConfigPath)

		case EventTerminate:
			d.logger.Info("index daemon terminating")
			return nil
		}
	}

	return nil
}

// handleUpsert stats and (for files) hashes each path, then writes the
// record. A single unreadable path never aborts the batch.
func (d *Daemon) handleUpsert(ev Event) error {
	for _, p := range ev.Paths {
		info, err := os.Stat(p)
		if err != nil {
			d.logger.Warn("unable to read metadata, skipping path",
				"event", ev.Kind.String(), "path", p, "error", err)

			continue
		}

		hash := ""

		if !info.IsDir() {
			hash, err = HashFile(p)
			if err != nil {
				d.logger.Warn("unable to hash file, skipping path",
					"event", ev.Kind.String(), "path", p, "error", err)

				continue
			}
		}

		if err := d.store.Insert(NewRecord(p, info, hash)); err != nil {
			return err
		}
	}

	return nil
}

// handleQuery answers a batch lookup through the event's oneshot reply.
// The send never blocks: the reply channel is 1-buffered and consumed by
// exactly one waiter, and a waiter that timed out simply never reads.
func (d *Daemon) handleQuery(ev Event) error {
	results := make([]QueryResult, 0, len(ev.Paths))

	for _, p := range ev.Paths {
		rec, err := d.store.Lookup(p)
		if err != nil {
			return err
		}

		if rec == nil {
			results = append(results, Absent(p))
		} else {
			results = append(results, Present(*rec))
		}
	}

	ev.Reply <- results
	close(ev.Reply)

	return nil
}

// handleConfigReload re-parses the configuration. Failures keep the
// previous access pool — a broken edit must not lock every client out.
func (d *Daemon) handleConfigReload(configPath string) {
	if d.reload == nil {
		return
	}

	if err := d.reload(configPath); err != nil {
		d.logger.Warn("unable to reload configuration, keeping previous access pool",
			"path", configPath, "error", err)

		return
	}

	d.logger.Info("access pool reloaded", "path", configPath)
}

// Finished reports whether the event loop has returned.
func (d *Daemon) Finished() bool {
	return d.finished.Load()
}

// Stop sends Terminate and polls Finished five times at 100 ms intervals.
// If the daemon is still running after that, onTimeout is invoked; there
// is no hard kill.
func (d *Daemon) Stop(onTimeout func()) {
	d.bus.SendTerminate()

	for i := 0; i < stopPollAttempts; i++ {
		if d.Finished() {
			return
		}

		time.Sleep(stopPollInterval)
	}

	if !d.Finished() {
		onTimeout()
	}
}
