package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/bridge/internal/relay/client"
	"github.com/vietddude/bridge/internal/relay/flush"
	"github.com/vietddude/bridge/internal/relay/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or drain the local relay queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List operations waiting to be relayed",
	Run:   runQueueStatus,
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay queued operations once against the central API",
	Run:   runQueueFlush,
}

func init() {
	queueCmd.AddCommand(queueStatusCmd, queueFlushCmd)
	rootCmd.AddCommand(queueCmd)
}

func openQueue(path string) *queue.Queue {
	q, err := queue.Open(path)
	if err != nil {
		slog.Error("Failed to open queue", "path", path, "error", err)
		os.Exit(1)
	}
	return q
}

func runQueueStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	q := openQueue(cfg.Relay.QueuePath)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tIDEMPOTENCY KEY\tENQUEUED\tREASON")
	for _, op := range q.ListPending() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			op.ID, op.Kind, op.IdempotencyKey, op.EnqueuedAt.Format(time.RFC3339), op.Reason)
	}
	_ = w.Flush()
	fmt.Printf("%d pending\n", q.Len())
}

// runQueueFlush must not run while a relay process owns the same queue file.
func runQueueFlush(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Relay.APIBaseURL == "" {
		slog.Error("api_base_url (BRIDGE_API_BASE_URL) is required")
		os.Exit(1)
	}
	q := openQueue(cfg.Relay.QueuePath)

	relay := client.New(client.Config{
		BaseURL:  cfg.Relay.APIBaseURL,
		Secret:   cfg.Relay.Secret,
		StaffKey: cfg.Relay.StaffKey,
		Timeout:  cfg.Relay.Timeout,
	}, nil)
	defer relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := flush.NewFlusher(0, q, relay, nil).Flush(ctx)
	fmt.Printf("replayed %d, failed %d, pending %d\n", res.Replayed, res.Failed, res.Pending)
	if res.Failed > 0 {
		os.Exit(1)
	}
}
