package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/metasync/metasync/internal/config"
	"github.com/metasync/metasync/internal/engine"
	"github.com/metasync/metasync/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	timeout  time.Duration
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "metasync",
	Short: "metasync converges database schema and GraphQL metadata",
	Long: `metasync drives a Hasura-style GraphQL engine over its SQL and metadata
endpoints. It creates, defines and deletes tables, tracking, relationships,
permissions and triggers, and heals stale metadata along the way.

Configuration is read from ~/.metasync/metasync.yaml or, without a file,
from METASYNC_ENDPOINT, METASYNC_ADMIN_SECRET and DATABASE_URL.`,
	SilenceUsage: true,
}

func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.metasync/metasync.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "per-request timeout (default from config, 30s)")
}

// loadConfig reads the config file, falling back to the environment when
// no file was named and the default one does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		if cfgFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg, err = config.FromEnv()
		if err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if timeout > 0 {
		cfg.Endpoint.Timeout = timeout
	}
	return cfg, nil
}

// setup loads config, starts logging and builds the engine.
func setup() (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Directory)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	if n, err := logging.Prune(cfg.Logging.Directory, cfg.Logging.RetentionDays, time.Now()); err != nil {
		logger.Warn("pruning logs", "error", err)
	} else if n > 0 {
		logger.Debug("pruned old logs", "removed", n)
	}
	slog.SetDefault(logger)

	return engine.New(cfg, logger)
}

// commandContext is cancelled on SIGINT and SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
