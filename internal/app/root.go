package app

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/tapwatch/internal/config"
)

var (
	configPath string
	stateDir   string
	verbose    bool

	// RootCmd is the root command for tapwatch.
	RootCmd = &cobra.Command{
		Use:   "tapwatch",
		Short: "Conscious-use telemetry agent for tracked applications",
		Long: `tapwatch watches which tracked application is in the foreground,
classifies app opens as conscious (tap-confirmed) or not, and ships
usage telemetry to a study collector.

The agent records:
  • App taps and conscious-open sessions
  • Forced-delay intervention outcomes
  • Hourly device status snapshots
  • A daily per-app usage summary

Events that cannot be delivered are queued on disk and replayed when
the network returns. Delivery is at-least-once.

Quick Start:
  1. tapwatch run            # start the agent (Ctrl+C to stop)
  2. tapwatch status         # check collector reachability and queue
  3. tapwatch sync           # push queued events now`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("tapwatch: conscious-use telemetry agent")
			fmt.Println()
			fmt.Println("Run 'tapwatch run' to start the agent.")
			fmt.Println("Run 'tapwatch --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/tapwatch/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "state directory (default: ~/.tapwatch)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

// loadConfig resolves the config file, merges environment overrides, and
// applies command-line flags on top. A .env file next to the working
// directory is loaded first so study deployments can keep the collector URL
// out of the config file.
func loadConfig() (*config.Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	return cfg, nil
}

// newLogger builds the process logger. Interactive runs get the console
// writer; everything else gets JSON lines on stderr.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	var log zerolog.Logger
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
