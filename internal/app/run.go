package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/tapwatch/internal/agent"
	"github.com/blackwell-systems/tapwatch/internal/device"
	"github.com/blackwell-systems/tapwatch/internal/monitor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the telemetry agent in the foreground",
	Long: `Start the tapwatch agent: poll the foreground spool, classify taps and
sessions, and ship telemetry to the collector.

The agent reads foreground observations from the spool file written by
tapwatch-feed (the platform glue). Time-sensitive events (taps,
interventions) are sent immediately; sessions and device status ride an
hourly batch. Undeliverable events are queued on disk and replayed
periodically while the network is up and the battery is healthy.`,
	Example: `  # Run with defaults (Ctrl+C to stop)
  tapwatch run

  # Point at a different collector
  TAPWATCH_SERVER_URL=https://collector.example.org tapwatch run`,
	RunE: runAgent,
}

func init() {
	RootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	engine, client, err := newEngine(cfg, queue, log)
	if err != nil {
		return err
	}

	spool := monitor.NewSpoolOracle(cfg.SpoolPath, log)
	if err := spool.Start(); err != nil {
		return fmt.Errorf("start spool watcher: %w", err)
	}
	defer spool.Stop()

	mon := monitor.New(spool, nil, cfg.Tracking.PollInterval.Std(), log)
	probe := device.NewSystemProbe(cfg.Server.BaseURL)
	a := agent.New(cfg, mon, engine, probe, queue, log)

	if err := writePIDFile(cfg.PIDPath()); err != nil {
		log.Warn().Err(err).Msg("could not write PID file")
	}
	defer removePIDFile(cfg.PIDPath())

	if err := a.Start(); err != nil {
		return err
	}

	log.Info().
		Str("device_id", client.DeviceID()).
		Str("spool", cfg.SpoolPath).
		Msg("tapwatch agent running, Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	a.Stop()
	return nil
}
