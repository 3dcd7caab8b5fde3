package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// defaultConfigFile is where the server looks for its configuration when
// --config is not given.
const defaultConfigFile = "config.toml"

// Flags bound in newRootCmd.
var (
	flagConfigPath    string
	flagListen        string
	flagPort          uint16
	flagSkipCheck     bool
	flagServerTimeout uint64
	flagVerbose       bool
	flagQuiet         bool
)

// newRootCmd builds the root command. fsindexd is a single-purpose server
// binary, so the root command runs it directly.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fsindexd",
		Short:   "Authenticated file-index server",
		Long:    "Serves metadata and downloads for a mirrored directory tree over HTTP, scoped per bearer token.",
		Version: version,
		// Silence Cobra's default error/usage printing — main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&flagConfigPath, "config", "c", defaultConfigFile, "configure file location")
	cmd.Flags().StringVarP(&flagListen, "listen", "l", "", "override server listen host")
	cmd.Flags().Uint16VarP(&flagPort, "port", "p", 0, "override server port")
	cmd.Flags().BoolVar(&flagSkipCheck, "skip-check", false, "skip startup scan of existing files")
	cmd.Flags().Uint64Var(&flagServerTimeout, "server-timeout", 0,
		"override query wait time in seconds (values above 3 are clamped to 3)")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	return cmd
}

// buildLogger creates an slog.Logger for the process. Text output when
// stderr is a terminal, JSON otherwise; --verbose and --quiet adjust the
// level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
