package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/tapwatch/internal/output"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued events to the collector now",
	Long: `Drain the offline queue and deliver queued events immediately instead of
waiting for the next replay cycle. Events the collector does not
acknowledge stay queued.`,
	Example: `  # Push everything queued
  tapwatch sync

  # Bound the attempt
  tapwatch sync --timeout 30s`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute, "overall time budget for the sync")
	RootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
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

	engine, _, err := newEngine(cfg, queue, log)
	if err != nil {
		return err
	}

	size, err := queue.Size()
	if err != nil {
		return fmt.Errorf("read queue size: %w", err)
	}
	if size == 0 {
		fmt.Println(output.RenderSyncResult(0, 0))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	spinner := output.NewSpinner(fmt.Sprintf("Sending %d queued events", size))
	spinner.Start()

	// Replay in passes until the queue stops shrinking or the budget runs
	// out. A pass that delivers nothing means the collector is refusing or
	// unreachable; stop rather than spin.
	delivered := 0
	for {
		n, err := engine.Replay(ctx, cfg.Sync.ReplayMax)
		delivered += n
		if err != nil {
			spinner.Stop()
			return fmt.Errorf("replay: %w", err)
		}
		if n == 0 || ctx.Err() != nil {
			break
		}
		remaining, err := queue.Size()
		if err != nil || remaining == 0 {
			break
		}
		spinner.UpdateMessage(fmt.Sprintf("Sending %d queued events", remaining))
	}
	spinner.Stop()

	remaining, err := queue.Size()
	if err != nil {
		return fmt.Errorf("read queue size: %w", err)
	}
	fmt.Println(output.RenderSyncResult(delivered, remaining))
	return nil
}
