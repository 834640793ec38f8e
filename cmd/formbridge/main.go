package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	fbhttp "github.com/formbridge/ingest/internal/adapter/http"
	"github.com/formbridge/ingest/internal/adapter/metrics"
	fbnats "github.com/formbridge/ingest/internal/adapter/nats"
	"github.com/formbridge/ingest/internal/adapter/postgres"
	"github.com/formbridge/ingest/internal/adapter/redisbucket"
	"github.com/formbridge/ingest/internal/adapter/restconnector"
	"github.com/formbridge/ingest/internal/adapter/ristretto"
	fbsecretstore "github.com/formbridge/ingest/internal/adapter/secretstore"
	"github.com/formbridge/ingest/internal/config"
	"github.com/formbridge/ingest/internal/logger"
	"github.com/formbridge/ingest/internal/port/eventbus"
	"github.com/formbridge/ingest/internal/port/ratelimiter"
	"github.com/formbridge/ingest/internal/resilience"
	"github.com/formbridge/ingest/internal/secrets"
	"github.com/formbridge/ingest/internal/service/authenticator"
	"github.com/formbridge/ingest/internal/service/ingest"
	"github.com/formbridge/ingest/internal/service/orchestrator"
	"github.com/formbridge/ingest/internal/service/persister"
	"github.com/formbridge/ingest/internal/service/query"
	"github.com/formbridge/ingest/internal/service/registry"
)

func main() {
	// Temporary bootstrap logger until config is loaded.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"rate_backend", cfg.Rate.Backend,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	bus, err := fbnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	bus.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	store := postgres.New(pool)

	vault, err := secrets.NewVault(secretEnvLoader())
	if err != nil {
		return fmt.Errorf("secrets vault: %w", err)
	}
	cache, err := ristretto.New(cfg.Secrets.CacheMaxBytes)
	if err != nil {
		return fmt.Errorf("secrets cache: %w", err)
	}
	secretStore := fbsecretstore.New(vault, cache, cfg.Secrets.CacheTTLSeconds)

	var rateBucket ratelimiter.Bucket
	if strings.EqualFold(cfg.Rate.Backend, "redis") {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		rateBucket = redisbucket.New(rdb)
	} else {
		rateBucket = postgres.NewRateBucket(store)
	}

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	connectorBreaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	connectorRegistry := registry.New()
	connectorRegistry.Register("rest", restconnector.New(connectorBreaker))

	// --- Services ---

	auth := authenticator.New(secretStore, store, time.Duration(cfg.Auth.ReplayWindowSeconds)*time.Second)
	ingestHandler := ingest.New(bus, rateBucket, int(cfg.Ingest.MaxPayloadBytes))
	queryService := query.New(store)

	persist := persister.New(store, log)
	deliver := orchestrator.New(store, connectorRegistry, bus, secretStore, rateBucket, rec, log, orchestrator.Config{
		MaxConcurrentEvents: cfg.Orchestrator.MaxConcurrentEvents,
		PerTenantCap:        cfg.Orchestrator.PerTenantCap,
		PerSubmissionFanout: cfg.Orchestrator.PerSubmissionFanout,
		MaxEventAge:         cfg.Retry.MaxEventAge,
	})

	if err := bus.Subscribe(ctx, eventbus.SubjectSubmissionReceived, eventbus.Policy{
		MaxAttempts:    8,
		DLQSubject:     eventbus.SubjectPersistDLQ,
		MaxConcurrency: cfg.Orchestrator.PersisterWorkers,
	}, persist.Handle); err != nil {
		return fmt.Errorf("subscribe persister: %w", err)
	}
	if err := bus.Subscribe(ctx, eventbus.SubjectSubmissionReceived, eventbus.Policy{
		MaxAttempts:    3,
		DLQSubject:     eventbus.SubjectDeliverDLQ,
		MaxConcurrency: cfg.Orchestrator.MaxConcurrentEvents,
	}, deliver.Handle); err != nil {
		return fmt.Errorf("subscribe orchestrator: %w", err)
	}
	slog.Info("subscribed to submission.received", "subscribers", 2)

	// --- HTTP ---

	srv := fbhttp.NewServer(auth, ingestHandler, queryService, store, bus, cfg.Rate, cfg.Ingest.MaxPayloadBytes)
	if cfg.Metrics.Enabled {
		srv.Router().Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done

	// --- Ordered graceful shutdown ---
	slog.Info("shutdown phase 1: stopping HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	srv.Close()

	slog.Info("shutdown phase 2: draining NATS connection")
	if err := bus.Drain(); err != nil {
		slog.Error("nats drain error", "error", err)
	}

	slog.Info("shutdown phase 3: closing database pool")
	pool.Close()

	slog.Info("shutdown complete")
	return nil
}

// secretEnvLoader scans the process environment for the two key
// families the SecretStore adapter resolves: tenant HMAC secrets
// (FORMBRIDGE_TENANT_SECRET_<tenant_id>) and destination credentials
// (FORMBRIDGE_CRED_<ref>), mapping them onto the vault's internal
// "tenant:"/"cred:" key prefixes. Rotation happens by restarting the
// process with new environment values (spec §4.4: "rotation happens
// out-of-band").
func secretEnvLoader() secrets.Loader {
	return func() (map[string]string, error) {
		vals := map[string]string{}
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || v == "" {
				continue
			}
			switch {
			case strings.HasPrefix(k, "FORMBRIDGE_TENANT_SECRET_"):
				tenantID := strings.TrimPrefix(k, "FORMBRIDGE_TENANT_SECRET_")
				vals["tenant:"+tenantID] = v
			case strings.HasPrefix(k, "FORMBRIDGE_CRED_"):
				ref := strings.TrimPrefix(k, "FORMBRIDGE_CRED_")
				vals["cred:"+ref] = v
			}
		}
		return vals, nil
	}
}
