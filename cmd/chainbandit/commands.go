package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/chainbandit/internal/app"
	"github.com/alanyoungcy/chainbandit/internal/bandit"
	"github.com/alanyoungcy/chainbandit/internal/config"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var (
	configPath  string
	modeFlag    string
	decayFactor float64
	eventsFrom  string
	eventsCount int
)

var rootCmd = &cobra.Command{
	Use:           "chainbandit",
	Short:         "Multi-armed bandit that picks which chain to arbitrage on",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured mode (run, simulate or server)",
	RunE:  runApp,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print every chain's arm state as JSON",
	RunE: withStrategy(func(ctx context.Context, s bandit.Strategy, _ []string) error {
		states, err := s.State(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, map[string]any{"strategy": s.Name(), "chains": states})
	}),
}

var bestCmd = &cobra.Command{
	Use:   "best",
	Short: "Print the chain with the highest estimated win rate",
	RunE: withStrategy(func(ctx context.Context, s bandit.Strategy, _ []string) error {
		chain, err := s.BestChain(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, map[string]string{"chain": chain})
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset [chain]",
	Short: "Reset one chain, or every chain, to the prior",
	Args:  cobra.MaximumNArgs(1),
	RunE: withStrategy(func(ctx context.Context, s bandit.Strategy, args []string) error {
		r, ok := s.(bandit.Resetter)
		if !ok {
			return fmt.Errorf("strategy %s cannot be reset", s.Name())
		}
		if len(args) == 0 {
			return r.ResetAll(ctx)
		}
		return r.ResetChain(ctx, args[0])
	}),
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Pull every arm toward the prior by --factor",
	RunE: withStrategy(func(ctx context.Context, s bandit.Strategy, _ []string) error {
		d, ok := s.(bandit.Decayer)
		if !ok {
			return fmt.Errorf("strategy %s does not support decay", s.Name())
		}
		return d.Decay(ctx, decayFactor)
	}),
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print recorded bandit events from the redis stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Redis.Enabled || cfg.Redis.EventsStream == "" {
			return errors.New("events needs redis.enabled and redis.events_stream")
		}
		application := app.New(cfg, newLogger(cfg.LogLevel))
		defer application.Close()

		deps, err := application.Wire(cmd.Context())
		if err != nil {
			return err
		}
		msgs, err := deps.SignalBus.StreamRead(cmd.Context(), cfg.Redis.EventsStream, eventsFrom, eventsCount)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("%s %s\n", m.ID, m.Payload)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, config.RedactedConfig(cfg))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chainbandit %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to configuration file")
	runCmd.Flags().StringVar(&modeFlag, "mode", "", "override the configured mode")
	decayCmd.Flags().Float64Var(&decayFactor, "factor", 0.95, "decay factor in (0,1]")
	eventsCmd.Flags().StringVar(&eventsFrom, "from", "0", "stream id to read after")
	eventsCmd.Flags().IntVar(&eventsCount, "count", 100, "maximum events to print")

	rootCmd.AddCommand(runCmd, stateCmd, bestCmd, resetCmd, decayCmd, eventsCmd, configCmd, versionCmd)
}

// loadConfig reads and validates the configuration. A missing default file
// falls back to defaults plus environment overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.toml" {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if modeFlag != "" {
		cfg.Mode = modeFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the JSON logger at the configured level and installs it
// as the default.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func runApp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	logger.Info("chainbandit starting",
		slog.String("version", Version),
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("chainbandit stopped")
	return nil
}

// withStrategy wires the configured store and strategy for a one-shot
// maintenance command. Events still flow to the audit log and bus.
func withStrategy(fn func(ctx context.Context, s bandit.Strategy, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		application := app.New(cfg, logger)
		defer application.Close()

		ctx := cmd.Context()
		deps, err := application.Wire(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, deps.Strategy, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
