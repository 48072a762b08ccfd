package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/tapwatch/internal/output"
)

var queueClear bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or clear the offline event queue",
	Long: `Show how many undelivered events are waiting on disk.

With --clear the queue is emptied without sending. Cleared events are
gone; use 'tapwatch sync' instead if the collector is reachable.`,
	Example: `  # Inspect the queue
  tapwatch queue

  # Drop everything queued
  tapwatch queue --clear`,
	RunE: runQueue,
}

func init() {
	queueCmd.Flags().BoolVar(&queueClear, "clear", false, "discard all queued events")
	RootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	if queueClear {
		size, err := queue.Size()
		if err != nil {
			return fmt.Errorf("read queue size: %w", err)
		}
		if err := queue.Clear(); err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
		fmt.Printf("Discarded %d queued events.\n", size)
		return nil
	}

	size, err := queue.Size()
	if err != nil {
		return fmt.Errorf("read queue size: %w", err)
	}
	lastBatch, err := queue.LastBatchSent()
	if err != nil {
		return fmt.Errorf("read last batch time: %w", err)
	}
	fmt.Println(output.RenderQueueStatus(size, lastBatch))
	return nil
}
