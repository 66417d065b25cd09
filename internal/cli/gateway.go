package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smsflow/smsflow/internal/infra/broker"
	"github.com/smsflow/smsflow/internal/ingest"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the HTTP ingest gateway",
	Long:  `Accepts raw SMS submissions over HTTP and appends them to the raw stream for the pipeline to consume.`,
	Run:   runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) {
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

	gw := ingest.NewGateway(client, client, cfg.Gateway.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gw.Stop(shutCtx); err != nil {
			slog.Error("Gateway shutdown failed", "error", err)
		}
	}()

	slog.Info("Gateway started", "port", cfg.Gateway.Port)
	if err := gw.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Gateway failed", "error", err)
		os.Exit(1)
	}
}
