package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashkan-ph/pulse/configs"
	"github.com/ashkan-ph/pulse/internal/aggregate"
	"github.com/ashkan-ph/pulse/internal/api"
	"github.com/ashkan-ph/pulse/internal/audit"
	"github.com/ashkan-ph/pulse/internal/auth"
	"github.com/ashkan-ph/pulse/internal/exchange"
	"github.com/ashkan-ph/pulse/internal/exchange/binance"
	"github.com/ashkan-ph/pulse/internal/exchange/gateio"
	"github.com/ashkan-ph/pulse/internal/hub"
	"github.com/ashkan-ph/pulse/internal/job"
	"github.com/ashkan-ph/pulse/internal/pump"
	"github.com/ashkan-ph/pulse/internal/store"
)

func main() {
	appConfig := configs.AppLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	gin.SetMode(appConfig.Server.GinMode)

	// Cache backend: Redis when reachable, in-memory otherwise so the
	// service still comes up on a developer machine.
	var backend store.Store
	redisStore, err := store.NewRedis(appConfig.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory cache", "addr", appConfig.Redis.Addr, "error", err)
		backend = store.NewMemory()
	} else {
		backend = redisStore
	}
	defer backend.Close()

	cache := store.NewMarketCache(backend, logger, appConfig.Cache)

	// Exchange adapters in configured order; the first one serves
	// cache-aside fetches.
	adapters := buildExchanges(appConfig.Exchanges, logger)
	if len(adapters) == 0 {
		logger.Error("No known exchanges enabled", "enabled", appConfig.Exchanges.Enabled)
		os.Exit(1)
	}
	aggregator := aggregate.New(logger, appConfig.Exchanges.MinSources, adapters...)

	// Audit stream: Kafka when enabled, application log otherwise.
	var sink audit.Sink
	if appConfig.Audit.Enabled {
		sink = audit.NewKafkaSink(appConfig.Audit.Broker, appConfig.Audit.Topic)
	} else {
		sink = audit.NewLogSink(logger)
	}
	defer sink.Close()
	publisher := audit.NewPublisher(sink, audit.DefaultQueueSize, logger)

	if appConfig.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, WebSocket tokens verify against an empty key")
	}
	validator := auth.NewJWTValidator(appConfig.Auth.JWTSecret)

	detector := pump.NewDetector(appConfig.Detector, logger)
	wsHub := hub.NewHub(logger)

	relay := job.NewPumpRelay(wsHub, publisher, logger)
	detector.AddObserver(relay.Observe)

	distributor := job.NewDistributor(
		appConfig.Distributor,
		appConfig.Exchanges.Symbols,
		aggregator,
		cache,
		wsHub,
		detector,
		publisher,
		logger,
	)

	handler := api.NewHandler(api.HandlerConfig{
		Cache:       cache,
		Store:       backend,
		Exchanges:   adapters,
		Pumps:       detector,
		Hub:         wsHub,
		Distributor: distributor,
		Audit:       publisher,
		Logger:      logger,
	})
	router := api.NewRouter(&api.Config{
		Handler:   handler,
		Hub:       wsHub,
		Validator: api.AuditedValidator{Inner: validator, Audit: publisher},
	})

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go publisher.Run(ctx)
	go detector.Run(ctx, pump.DefaultSweepInterval)
	distributor.Start()

	server := &http.Server{
		Addr:    appConfig.Server.ListenAddr,
		Handler: router,
	}
	go func() {
		logger.Info("Starting server",
			"addr", appConfig.Server.ListenAddr,
			"exchanges", appConfig.Exchanges.Enabled,
			"symbols", appConfig.Exchanges.Symbols,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	// Wait for context cancellation (signal received)
	<-ctx.Done()
	logger.Warn("Shutdown signal received, stopping...")

	distributor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	logger.Info("All components stopped")
}

// buildExchanges creates an adapter per enabled exchange. Unknown
// names are logged and skipped.
func buildExchanges(cfg configs.ExchangesConfig, logger *slog.Logger) []exchange.Exchange {
	var adapters []exchange.Exchange
	for _, name := range cfg.Enabled {
		switch name {
		case "binance":
			adapters = append(adapters, binance.New(clientConfig(cfg, cfg.BinanceBaseURL), logger))
		case "gateio":
			adapters = append(adapters, gateio.New(clientConfig(cfg, cfg.GateioBaseURL), logger))
		default:
			logger.Warn("Unknown exchange in config, skipped", "exchange", name)
		}
	}
	return adapters
}

func clientConfig(cfg configs.ExchangesConfig, baseURL string) *exchange.ClientConfig {
	clientCfg := exchange.DefaultClientConfig(baseURL, float64(cfg.RequestsPerSecond))
	if cfg.RequestTimeoutSeconds > 0 {
		clientCfg.RequestTimeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}
	return clientCfg
}
