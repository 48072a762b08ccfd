package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blackwell-systems/tapwatch/internal/buffer"
	"github.com/blackwell-systems/tapwatch/internal/config"
)

// RenderHealthLine renders the collector reachability line.
// Example: "Collector: ok (12ms) http://localhost:8080"
func RenderHealthLine(reachable bool, latency time.Duration, server string) string {
	if reachable {
		return fmt.Sprintf("Collector: %s (%dms) %s",
			colorize(colorGreen, "ok"), latency.Milliseconds(), server)
	}
	return fmt.Sprintf("Collector: %s %s", colorize(colorRed, "unreachable"), server)
}

// RenderTargetTable renders the tracked applications with their intervention
// flag.
func RenderTargetTable(targets []config.Target, interventions map[string]bool) string {
	if len(targets) == 0 {
		return "No tracked applications configured.\n"
	}

	sorted := make([]config.Target, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-16s %-36s %s\n", "App", "Package", "Intervention"))
	sb.WriteString(strings.Repeat("─", 66))
	sb.WriteString("\n")

	for _, t := range sorted {
		flag := "—"
		if interventions[t.Package] {
			flag = colorize(colorYellow, "delay")
		}
		sb.WriteString(fmt.Sprintf("%-16s %-36s %s\n",
			truncate(t.Name, 16), truncate(t.Package, 36), flag))
	}
	return sb.String()
}

// RenderPendingTable renders the in-memory buffer counts awaiting the next
// batch flush.
func RenderPendingTable(c buffer.Counts) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-16s %s\n", "Pending", "Count"))
	sb.WriteString(strings.Repeat("─", 24))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%-16s %d\n", "sessions", c.Sessions))
	sb.WriteString(fmt.Sprintf("%-16s %d\n", "taps", c.Taps))
	sb.WriteString(fmt.Sprintf("%-16s %d\n", "interventions", c.Interventions))
	sb.WriteString(fmt.Sprintf("%-16s %d\n", "device statuses", c.DeviceStatuses))
	sb.WriteString(fmt.Sprintf("%-16s %d\n", "summaries", c.Summaries))
	return sb.String()
}

// RenderQueueStatus renders the offline queue line.
// Example: "Offline queue: 42 events · last batch 2 hours ago"
func RenderQueueStatus(size int, lastBatch time.Time) string {
	count := fmt.Sprintf("%d events", size)
	if size == 0 {
		count = colorize(colorGreen, "empty")
	} else {
		count = colorize(colorYellow, count)
	}
	return fmt.Sprintf("Offline queue: %s · last batch %s", count, formatRelativeTime(lastBatch))
}

// RenderSyncResult renders the outcome of a manual sync.
func RenderSyncResult(delivered, remaining int) string {
	if delivered == 0 && remaining == 0 {
		return "Nothing to sync."
	}
	line := fmt.Sprintf("Delivered %d queued events", delivered)
	if remaining > 0 {
		line += fmt.Sprintf(", %s", colorize(colorYellow, fmt.Sprintf("%d still queued", remaining)))
	}
	return line + "."
}
