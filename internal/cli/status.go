package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smsflow/smsflow/internal/infra/broker"
	"github.com/smsflow/smsflow/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stream backlog and stored record count",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	client, err := broker.NewClient(cfg.Broker)
	if err != nil {
		slog.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	consumer := client.NewGroupConsumer(cfg.Broker, "status-probe")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SUBJECT\tLENGTH\tPENDING")
	for _, subject := range []string{broker.SubjectRaw, broker.SubjectParsed} {
		length, err := client.Len(ctx, subject)
		if err != nil {
			slog.Warn("Stream length lookup failed", "subject", subject, "error", err)
		}
		pending, err := consumer.Pending(ctx, subject)
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s\t%d\t?\n", subject, length)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", subject, length, pending)
	}
	deadLen, err := client.Len(ctx, broker.SubjectDeadLetter)
	if err == nil {
		_, _ = fmt.Fprintf(w, "%s\t%d\t-\n", broker.SubjectDeadLetter, deadLen)
	}
	_ = w.Flush()

	if cfg.Database.URL == "" {
		return
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	count, err := postgres.NewRecordRepo(db).Count(ctx)
	if err != nil {
		slog.Error("Failed to count records", "error", err)
		os.Exit(1)
	}
	fmt.Printf("\nstored records: %d\n", count)
}
