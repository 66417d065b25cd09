package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	backoff "github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/smsflow/smsflow/internal/core/config"
	"github.com/smsflow/smsflow/internal/health"
	"github.com/smsflow/smsflow/internal/infra/broker"
	"github.com/smsflow/smsflow/internal/infra/cache"
	"github.com/smsflow/smsflow/internal/infra/classifier"
	"github.com/smsflow/smsflow/internal/infra/storage"
	"github.com/smsflow/smsflow/internal/infra/storage/memory"
	"github.com/smsflow/smsflow/internal/infra/storage/postgres"
	"github.com/smsflow/smsflow/internal/pipeline/metrics"
	"github.com/smsflow/smsflow/internal/pipeline/parser"
	"github.com/smsflow/smsflow/internal/pipeline/retry"
	"github.com/smsflow/smsflow/internal/pipeline/writer"
)

const lagPollInterval = 15 * time.Second

// App owns the full pipeline: broker connection, parse cache, storage,
// parser and writer pools, and the health/metrics server.
type App struct {
	cfg config.AppConfig

	brokerClient *broker.Client
	parseCache   *cache.RedisCache
	db           *postgres.DB
	repo         storage.RecordRepository

	parsers []*parser.Worker
	writers []*writer.Writer

	lagConsumer  *broker.GroupConsumer
	healthServer *health.Server
	log          *slog.Logger
}

// NewApp builds the application from config. Infra connections are
// retried with exponential backoff so a restart race with Redis or
// Postgres does not kill the process.
func NewApp(cfg config.AppConfig) (*App, error) {
	log := slog.With("component", "app")

	brokerClient, err := connectBroker(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	parseCache, err := connectCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	var db *postgres.DB
	var repo storage.RecordRepository
	if cfg.Database.URL != "" {
		db, err = connectDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		repo = postgres.NewRecordRepo(db)
		log.Info("using postgres storage")
	} else {
		repo = memory.NewRecordRepo(memory.NewMemoryStorage())
		log.Warn("no database URL configured, records are kept in memory")
	}

	cls := classifier.NewHTTPClassifier(cfg.Classifier)
	policy := retry.Policy{
		MaxAttempts: cfg.Parser.MaxAttempts,
		BaseDelay:   cfg.Parser.BaseDelay,
		MaxDelay:    cfg.Parser.MaxDelay,
	}

	app := &App{
		cfg:          cfg,
		brokerClient: brokerClient,
		parseCache:   parseCache,
		db:           db,
		repo:         repo,
		lagConsumer:  brokerClient.NewGroupConsumer(cfg.Broker, consumerName("lag")),
		log:          log,
	}

	for i := 0; i < cfg.Parser.Concurrency; i++ {
		consumer := brokerClient.NewGroupConsumer(cfg.Broker, consumerName("parser"))
		app.parsers = append(app.parsers, parser.New(consumer, brokerClient, parseCache, cls, policy))
	}
	for i := 0; i < cfg.Writer.Concurrency; i++ {
		consumer := brokerClient.NewGroupConsumer(cfg.Broker, consumerName("writer"))
		app.writers = append(app.writers, writer.New(consumer, repo))
	}

	mon := health.NewMonitor()
	mon.Register("broker", brokerClient.Ping)
	mon.Register("cache", parseCache.Ping)
	if db != nil {
		mon.Register("database", db.Health)
	}
	app.healthServer = health.NewServer(mon, cfg.Server.Port)

	return app, nil
}

// Run starts every worker and blocks until the context is canceled or
// a component fails. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting pipeline",
		"parsers", len(a.parsers),
		"writers", len(a.writers),
		"health_port", a.cfg.Server.Port)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.healthServer.Stop(shutCtx)
	})

	for _, w := range a.parsers {
		g.Go(func() error { return w.Run(ctx) })
	}
	for _, w := range a.writers {
		g.Go(func() error { return w.Run(ctx) })
	}

	g.Go(func() error {
		a.pollStreamLag(ctx)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases infra connections. Call after Run returns.
func (a *App) Close() error {
	var errs []error
	if err := a.parseCache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if err := a.brokerClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broker: %w", err))
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// pollStreamLag exports delivered-but-unacked counts per subject so
// consumer backlog shows up on /metrics.
func (a *App) pollStreamLag(ctx context.Context) {
	ticker := time.NewTicker(lagPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, subject := range []string{broker.SubjectRaw, broker.SubjectParsed} {
				pending, err := a.lagConsumer.Pending(ctx, subject)
				if err != nil {
					a.log.Debug("pending lookup failed", "subject", subject, "error", err)
					continue
				}
				metrics.StreamLag.WithLabelValues(subject).Set(float64(pending))
			}
		}
	}
}

func connectBroker(cfg broker.Config) (*broker.Client, error) {
	var client *broker.Client
	err := withConnectBackoff(func() error {
		var err error
		client, err = broker.NewClient(cfg)
		return err
	})
	return client, err
}

func connectCache(cfg cache.Config) (*cache.RedisCache, error) {
	var c *cache.RedisCache
	err := withConnectBackoff(func() error {
		var err error
		c, err = cache.NewRedisCache(cfg)
		return err
	})
	return c, err
}

func connectDB(cfg postgres.Config) (*postgres.DB, error) {
	var db *postgres.DB
	err := withConnectBackoff(func() error {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg)
		return err
	})
	return db, err
}

// withConnectBackoff retries a connection attempt a handful of times
// with exponential backoff before giving up.
func withConnectBackoff(connect func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b := backoff.WithMaxRetries(5, backoff.NewExponential(500*time.Millisecond))
	return backoff.Do(ctx, b, func(ctx context.Context) error {
		if err := connect(); err != nil {
			slog.Warn("connection attempt failed, retrying", "error", err)
			return backoff.RetryableError(err)
		}
		return nil
	})
}

// consumerName builds a group-unique consumer name so pending entries
// can be traced back to a process.
func consumerName(role string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", host, role, uuid.NewString()[:8])
}
