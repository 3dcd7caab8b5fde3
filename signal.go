package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forcedExitCode is the process exit status when a second interrupt
// arrives before graceful shutdown finishes.
const forcedExitCode = 137

// shutdownContext returns a context that cancels on the first
// SIGINT/SIGTERM and force-exits with status 137 on the second. The first
// signal lets the daemon and watcher drain; the second is for operators
// who cannot wait.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(forcedExitCode)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
