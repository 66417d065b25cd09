package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smsflow/smsflow/internal/core/domain"
	"github.com/smsflow/smsflow/internal/infra/broker"
)

var dlqLimit int64

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered messages",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered messages",
	Run:   runDLQList,
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish dead-lettered messages to the raw stream",
	Long:  `Moves every dead letter back onto the raw stream for another processing pass. Use after a classifier outage; malformed messages will simply dead-letter again.`,
	Run:   runDLQReplay,
}

func init() {
	dlqCmd.PersistentFlags().Int64Var(&dlqLimit, "limit", 100, "maximum number of dead letters to touch")
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}

func dlqClient() *broker.Client {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	client, err := broker.NewClient(cfg.Broker)
	if err != nil {
		slog.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	return client
}

func runDLQList(cmd *cobra.Command, args []string) {
	client := dlqClient()
	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()
	msgs, err := client.Range(ctx, broker.SubjectDeadLetter, dlqLimit)
	if err != nil {
		slog.Error("Failed to read dead-letter stream", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STREAM ID\tKIND\tATTEMPTS\tSENDER\tFIRST SEEN\tLAST ERROR")

	for _, m := range msgs {
		var dl domain.DeadLetter
		if err := json.Unmarshal(m.Payload, &dl); err != nil {
			_, _ = fmt.Fprintf(w, "%s\t<undecodable>\t\t\t\t\n", m.ID)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			m.ID, dl.ErrorKind, dl.AttemptCount, dl.Raw.Sender,
			dl.FirstSeenAt.Format("2006-01-02 15:04:05"), dl.LastError)
	}
	_ = w.Flush()
}

func runDLQReplay(cmd *cobra.Command, args []string) {
	client := dlqClient()
	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()
	msgs, err := client.Range(ctx, broker.SubjectDeadLetter, dlqLimit)
	if err != nil {
		slog.Error("Failed to read dead-letter stream", "error", err)
		os.Exit(1)
	}

	var replayed int
	for _, m := range msgs {
		var dl domain.DeadLetter
		if err := json.Unmarshal(m.Payload, &dl); err != nil {
			slog.Warn("Skipping undecodable dead letter", "id", m.ID)
			continue
		}

		payload, err := json.Marshal(&dl.Raw)
		if err != nil {
			slog.Warn("Skipping dead letter", "id", m.ID, "error", err)
			continue
		}
		if err := client.Publish(ctx, broker.SubjectRaw, payload); err != nil {
			slog.Error("Republish failed, stopping", "id", m.ID, "error", err)
			os.Exit(1)
		}
		if err := client.Delete(ctx, broker.SubjectDeadLetter, m.ID); err != nil {
			slog.Warn("Failed to remove replayed dead letter", "id", m.ID, "error", err)
		}
		replayed++
	}

	slog.Info("Dead letters replayed", "count", replayed)
}
