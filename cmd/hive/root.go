package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/hive/internal/config"
	"github.com/aristath/hive/internal/logging"
	"github.com/aristath/hive/internal/orchestrator"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "hive",
		Short: "Worker scheduling and activation-network orchestrator",
		Long: `Hive runs a pool of capability-tagged workers. Tasks are queued with
priorities and dependencies and dispatched to the best available workers;
free-form queries spread through a weighted activation network of workers
and are integrated into a single response.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default merges ~/.hive/config.toml and .hive/config.toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "append logs to this file instead of stderr")

	cmd.AddCommand(
		newRunCmd(opts),
		newQueryCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// loadConfig reads the file named by --config, or the conventional global
// and project files when the flag is unset.
func (o *rootOptions) loadConfig() (*config.HiveConfig, error) {
	var (
		cfg *config.HiveConfig
		err error
	)
	if o.configPath == "" {
		cfg, err = config.LoadDefault()
	} else {
		if _, statErr := os.Stat(o.configPath); statErr != nil {
			return nil, fmt.Errorf("config file: %w", statErr)
		}
		cfg, err = config.Load("", o.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openSession builds a session whose logs go to --log-file, to stderr, or
// nowhere when quiet is set and no log file was given. The returned close
// function releases the session and the log file.
func (o *rootOptions) openSession(cmd *cobra.Command, cfg *config.HiveConfig, quiet bool) (*orchestrator.Session, func() error, error) {
	var (
		out     io.Writer = cmd.ErrOrStderr()
		logFile *os.File
	)
	switch {
	case o.logFile != "":
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		logFile, out = f, f
	case quiet:
		out = io.Discard
	}

	closeLog := func() error {
		if logFile == nil {
			return nil
		}
		return logFile.Close()
	}

	logger, _, err := logging.Build(logging.Options{
		Level:    cfg.Logging.Level,
		Encoding: cfg.Logging.Encoding,
		Out:      out,
		ErrOut:   out,
	})
	if err != nil {
		return nil, nil, errors.Join(err, closeLog())
	}

	sess, err := orchestrator.NewSession(cmd.Context(), cfg, orchestrator.WithLogger(logger))
	if err != nil {
		return nil, nil, errors.Join(err, closeLog())
	}

	return sess, func() error {
		return errors.Join(sess.Close(), closeLog())
	}, nil
}
