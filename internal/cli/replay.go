package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/smsflow/smsflow/internal/infra/broker"
	"github.com/smsflow/smsflow/internal/ingest"
)

var replayDevice string

var replayCmd = &cobra.Command{
	Use:   "replay <backup.xml>",
	Short: "Replay an SMS backup file into the raw stream",
	Long:  `Parses an SMS Backup & Restore XML export and publishes every message to the raw stream. Already-processed messages are absorbed by the parse cache and dedup key downstream.`,
	Args:  cobra.ExactArgs(1),
	Run:   runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayDevice, "device", "backup-import", "device ID to attribute replayed messages to")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
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
	defer func() {
		_ = client.Close()
	}()

	published, skipped, err := ingest.ReplayBackup(context.Background(), client, replayDevice, args[0])
	if err != nil {
		slog.Error("Replay failed", "file", args[0], "error", err)
		os.Exit(1)
	}

	slog.Info("Replay finished", "file", args[0], "published", published, "skipped", skipped)
}
