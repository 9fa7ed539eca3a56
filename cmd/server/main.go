package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"throttleguard/internal/platform/config"
	"throttleguard/internal/platform/health"
	"throttleguard/internal/platform/kafka"
	"throttleguard/internal/platform/kafka/producer"
	"throttleguard/internal/platform/logger"
	"throttleguard/internal/platform/redis"
	"throttleguard/internal/securitylog"
	"throttleguard/internal/securitylog/forward"
	slstore "throttleguard/internal/securitylog/store"
	throttleconfig "throttleguard/internal/throttle/config"
	throttlehandler "throttleguard/internal/throttle/handler"
	throttlemetrics "throttleguard/internal/throttle/metrics"
	throttlemw "throttleguard/internal/throttle/middleware"
	"throttleguard/internal/throttle/service"
	"throttleguard/internal/throttle/workers/cleanup"
	"throttleguard/pkg/platform/circuit"
	"throttleguard/pkg/platform/middleware/admin"
	"throttleguard/pkg/platform/middleware/metadata"
	request "throttleguard/pkg/platform/middleware/request"
)

// main wires dependencies and keeps the lifecycle small. Behaviour lives in
// internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	policy, err := throttleconfig.Load(cfg.PolicyFile)
	if err != nil {
		return err
	}
	trustedProxies, err := metadata.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	upstream, err := newUpstream(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("parse UPSTREAM_URL: %w", err)
	}

	healthHandler := health.New(cfg.Environment, nil)

	fileStore, err := slstore.NewFileStore(cfg.SecurityLogPath)
	if err != nil {
		return err
	}
	defer fileStore.Close() //nolint:errcheck // closed after the logger drains

	var forwarders []forward.Forwarder

	kafkaProducer, err := newKafkaProducer(cfg, log)
	if err != nil {
		return err
	}
	if kafkaProducer != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := kafkaProducer.Close(closeCtx); err != nil {
				log.Warn("kafka producer close failed", "error", err)
			}
		}()
		healthHandler.RegisterCheck("kafka", kafkaProducer.Health)
		forwarders = append(forwarders, forward.NewGuarded(
			forward.NewKafka(kafkaProducer, cfg.SecurityEventsTopic),
			circuit.New("kafka"),
			forward.WithLogger(log),
		))
	}

	redisClient, err := redis.New(ctx, redis.DefaultConfig(cfg.RedisURL))
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		healthHandler.RegisterCheck("redis", redisClient.Health)
		forwarders = append(forwarders, forward.NewGuarded(
			forward.NewRedisStream(redisClient, cfg.SecurityEventsStream, 0),
			circuit.New("redis"),
			forward.WithLogger(log),
		))
	}

	securityLog := securitylog.New(fileStore,
		securitylog.WithLogger(log),
		securitylog.WithForwarders(forwarders...),
	)

	throttleMetrics := throttlemetrics.New()
	engine, err := service.New(policy,
		service.WithLogger(log),
		service.WithEventSink(securityLog),
		service.WithMetrics(throttleMetrics),
	)
	if err != nil {
		return err
	}

	sweeper := cleanup.New(engine,
		cleanup.WithLogger(log),
		cleanup.WithInterval(policy.Eviction.Interval()),
		cleanup.WithInitialDelay(policy.Eviction.InitialDelay()),
		cleanup.WithMetrics(throttleMetrics),
	)

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(metadata.NewMiddleware(metadata.Config{TrustedProxies: trustedProxies}).Handler)
	r.Use(request.Logger(log, request.NewMetrics()))

	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.AdminJWTSecret != "" {
		adminHandler := throttlehandler.New(securityLog, engine, log)
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdmin([]byte(cfg.AdminJWTSecret), log))
			adminHandler.RegisterAdmin(r)
		})
	} else {
		log.Warn("ADMIN_JWT_SECRET not set, admin routes disabled")
	}

	registerThrottled(r, throttlemw.New(engine, log), upstream)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(sweeper.Start(gctx))
	})
	if redisClient != nil {
		g.Go(func() error {
			return ignoreCanceled(redisClient.RunPoolStats(gctx, 15*time.Second))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return securityLog.Close(shutdownCtx)
	})

	return g.Wait()
}

func newKafkaProducer(cfg config.Server, log *slog.Logger) (*producer.Producer, error) {
	brokers := kafka.ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return nil, nil
	}
	pcfg := kafka.DefaultProducerConfig()
	pcfg.Brokers = brokers
	return producer.New(pcfg, log)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
