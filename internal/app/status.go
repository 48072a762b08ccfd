package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/tapwatch/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check agent, collector, and offline queue status",
	Long: `Display the agent's current state:

  • Whether the agent process is running
  • Collector reachability and latency
  • Offline queue depth and last successful batch
  • The tracked applications and their intervention flags`,
	Example: `  # Check status
  tapwatch status`,
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	const label = "%-14s"
	fmt.Println()

	if pid, running := agentPID(cfg.PIDPath()); running {
		fmt.Printf(label+"running (PID %d)\n", "Agent:", pid)
	} else {
		fmt.Printf(label+"stopped  (run 'tapwatch run')\n", "Agent:")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	health := engine.Health(ctx)
	fmt.Println(output.RenderHealthLine(health.Healthy, health.Latency, cfg.Server.BaseURL))

	size, err := queue.Size()
	if err != nil {
		return fmt.Errorf("read queue size: %w", err)
	}
	lastBatch, err := queue.LastBatchSent()
	if err != nil {
		return fmt.Errorf("read last batch time: %w", err)
	}
	fmt.Println(output.RenderQueueStatus(size, lastBatch))

	fmt.Printf(label+"%s\n", "Device ID:", client.DeviceID())

	fmt.Println()
	fmt.Println(output.RenderTargetTable(cfg.Tracking.Targets, cfg.InterventionSet()))
	return nil
}
