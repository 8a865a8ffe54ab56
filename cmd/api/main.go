package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openlot/live-auction-backend/internal/api/rest"
	"github.com/openlot/live-auction-backend/internal/api/websocket"
	"github.com/openlot/live-auction-backend/internal/infrastructure/auth"
	"github.com/openlot/live-auction-backend/internal/infrastructure/bus"
	"github.com/openlot/live-auction-backend/internal/infrastructure/config"
	"github.com/openlot/live-auction-backend/internal/infrastructure/database"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/infrastructure/jobs"
	"github.com/openlot/live-auction-backend/internal/infrastructure/repository"
	"github.com/openlot/live-auction-backend/internal/infrastructure/telemetry"
	"github.com/openlot/live-auction-backend/internal/metrics"
	"github.com/openlot/live-auction-backend/internal/service/admission"
	"github.com/openlot/live-auction-backend/internal/service/finalizer"
)

// jobDedupTTL bounds how long a job's natural id suppresses duplicate
// enqueues. All finalize triggers for one deadline collapse within it.
const jobDedupTTL = time.Hour

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	provider, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	zapLogger, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build infrastructure logger: %w", err)
	}
	defer zapLogger.Sync()

	pool, err := database.NewPool(ctx, &cfg.Cold, zapLogger.Named("db"))
	if err != nil {
		return fmt.Errorf("connect cold store: %w", err)
	}
	defer pool.Close()
	db := pool.Stdlib()

	// One Redis client backs the hot state, the fan-out bus and the job
	// queue.
	redisClient, err := hotstore.NewClient(&cfg.Hot)
	if err != nil {
		return fmt.Errorf("connect hot store: %w", err)
	}
	hot := hotstore.NewStore(redisClient, cfg.Auction.Retention(), zapLogger.Named("hotstore"))
	defer hot.Close()

	if err := hot.EnableExpiryEvents(ctx); err != nil {
		// Managed Redis often refuses CONFIG SET; the deadline sweep covers
		// the same ground.
		logger.Warn("expiry notifications unavailable, relying on deadline sweep",
			slog.Any("error", err))
	}

	auctionRepo := repository.NewAuctionRepository(db)
	bidRepo := repository.NewBidRepository(db)
	userRepo := repository.NewUserRepository(db)

	tokens, err := auth.NewService(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("build auth service: %w", err)
	}

	registry := metrics.NewRegistry()

	publisher := bus.NewPublisher(redisClient, zapLogger.Named("bus"))
	subscriber := bus.NewSubscriber(redisClient, zapLogger.Named("bus"))

	queue := jobs.NewQueue(redisClient, jobDedupTTL, zapLogger.Named("jobs"))

	coordinator := finalizer.NewCoordinator(hot, auctionRepo, queue, publisher, registry,
		cfg.Finalization.MaxAttempts,
		logger.With(slog.String("component", "finalizer")))
	defer coordinator.Stop()

	runner := jobs.NewRunner(queue, jobs.RunnerConfig{
		Workers:      cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval,
	}, zapLogger.Named("jobs"))
	runner.Register(jobs.QueuePersistBid, jobs.PersistBidHandler(bidRepo))
	runner.Register(jobs.QueueUpdateMirror, jobs.UpdateMirrorHandler(auctionRepo, zapLogger.Named("jobs")))
	runner.Register(jobs.QueueFinalize, jobs.FinalizeHandler(coordinator))

	for _, name := range []string{jobs.QueuePersistBid, jobs.QueueUpdateMirror, jobs.QueueFinalize} {
		registry.RegisterQueueDepth(name, queueDepthProbe(queue, name))
	}

	admitter := admission.NewService(hot, auctionRepo, queue, publisher, coordinator, registry,
		admission.Config{
			Extension: admission.ExtensionPolicy{
				Threshold: cfg.Auction.ExtensionThreshold(),
				Duration:  cfg.Auction.ExtensionDuration(),
			},
			GateWindow: cfg.Bid.RateWindow(),
		},
		logger.With(slog.String("component", "admission")))

	hub := websocket.NewHub(zapLogger.Named("hub"))
	gateway := websocket.NewGateway(hub, tokens, admitter, hot, auctionRepo, zapLogger.Named("gateway"))
	bridge := websocket.NewBridge(hub, zapLogger.Named("bridge"))

	registry.RegisterGatewayGauges(
		func() float64 { return float64(hub.ConnectionCount()) },
		func() float64 { return float64(hub.RoomCount()) },
	)

	server := rest.NewServer(cfg.Server, rest.Deps{
		Auctions:  auctionRepo,
		Bids:      bidRepo,
		Users:     userRepo,
		Hot:       hot,
		Finalizer: coordinator,
		Tokens:    tokens,
		Cold:      db,
		WS:        gateway.HandleWS,
		Metrics:   registry.Handler(),
		Recorder:  registry,
	}, logger)

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start job runner: %w", err)
	}
	gateway.Start(ctx)

	go func() {
		if err := subscriber.Run(ctx, bridge); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("bus subscriber stopped", slog.Any("error", err))
		}
	}()
	go func() {
		if err := coordinator.RunExpiryListener(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("expiry listener stopped", slog.Any("error", err))
		}
	}()
	go func() {
		if err := coordinator.RunDeadlineSweep(ctx, cfg.Finalization.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("deadline sweep stopped", slog.Any("error", err))
		}
	}()

	// Recover live auctions before the first request can touch them.
	if err := coordinator.Resync(ctx); err != nil {
		return fmt.Errorf("resync active auctions: %w", err)
	}

	logger.Info("api server starting",
		slog.String("version", cfg.Version),
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Server.Port))

	err = server.Run(ctx)

	// Drain in dependency order: HTTP intake is already closed, then the
	// websocket fan-out, in-flight jobs, and last the finalizer's timers
	// (deferred above).
	gateway.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if stopErr := runner.Stop(drainCtx); stopErr != nil {
		logger.Warn("job runner drain incomplete", slog.Any("error", stopErr))
	}
	return err
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Provider, error) {
	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "openlot-api"
	telCfg.ServiceVersion = cfg.Version
	telCfg.Environment = cfg.Environment
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telCfg.SamplingRate = cfg.Telemetry.SamplingRate
	return telemetry.InitializeOpenTelemetry(ctx, telCfg)
}

// newZapLogger builds the logger used by the infrastructure components.
func newZapLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

// queueDepthProbe reads the ready depth at scrape time.
func queueDepthProbe(queue *jobs.Queue, name string) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		stats, err := queue.Stats(ctx, name)
		if err != nil {
			return 0
		}
		return float64(stats.Ready)
	}
}
