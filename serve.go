package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fsindex/fsindexd/internal/config"
	"github.com/fsindex/fsindexd/internal/index"
	"github.com/fsindex/fsindexd/internal/server"
)

// shutdownGrace bounds how long in-flight HTTP requests may drain after
// the first interrupt.
const shutdownGrace = 5 * time.Second

// enterWorkingDirectory changes into dir and returns its absolute path.
// The download handlers join request paths onto this value, so a relative
// configured directory must not be used as-is once the process has
// already moved into it.
func enterWorkingDirectory(dir string) (string, error) {
	if err := os.Chdir(dir); err != nil {
		return "", fmt.Errorf("unable to change directory: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}

	return workDir, nil
}

// run boots the whole pipeline: config, store, startup scan, daemon,
// HTTP server, watcher — then waits for shutdown and unwinds in reverse.
func run(parent context.Context) error {
	logger := buildLogger()

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}

	// The watcher compares notification paths against the config path, and
	// the working-directory change below would break a relative one.
	configPath, err := filepath.Abs(flagConfigPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	store, err := index.OpenStore(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("unable to load database: %w", err)
	}

	workDir, err := enterWorkingDirectory(cfg.WorkingDirectory)
	if err != nil {
		store.Close()
		return err
	}

	if !flagSkipCheck {
		if err := index.NewScanner(store, logger).Scan(parent, "."); err != nil {
			store.Close()
			return fmt.Errorf("startup scan failed: %w", err)
		}
	}

	pool := config.NewAccessPool(cfg.BuildPool())

	bus := index.NewBus(logger)

	reload := func(path string) error {
		reloaded, err := config.Load(path)
		if err != nil {
			return err
		}

		pool.Replace(reloaded.BuildPool())

		return nil
	}

	daemon := index.NewDaemon(store, bus, reload, logger)

	srv := server.New(server.Options{
		Addr:     cfg.ListenAddr(flagListen, flagPort),
		WorkDir:  workDir,
		WaitTime: time.Duration(flagServerTimeout) * time.Second,
		Version:  version,
		Pool:     pool,
		Bus:      bus,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(parent)
	g.Go(daemon.Run)
	g.Go(srv.ListenAndServe)

	watcher := index.StartWatcher(".", configPath, bus, logger)

	ctx := shutdownContext(parent, logger)

	select {
	case <-ctx.Done():
	case <-gctx.Done():
		// The daemon or the server failed; unwind and report via g.Wait.
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(graceCtx); err != nil {
		logger.Warn("http server did not shut down cleanly", "error", err)
	}

	watcher.Stop(func() {
		logger.Warn("file watcher thread not stopped")
	})

	daemon.Stop(func() {
		logger.Warn("index daemon not stopped")
	})

	runErr := g.Wait()

	if err := store.Close(); err != nil {
		logger.Warn("unable to close index store", "error", err)
	}

	return runErr
}
