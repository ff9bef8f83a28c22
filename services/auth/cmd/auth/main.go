package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aksharshruti/platform/libs/auth"
	"github.com/aksharshruti/platform/libs/health"
	"github.com/aksharshruti/platform/libs/httpmiddleware"
	"github.com/aksharshruti/platform/libs/kafka"
	"github.com/aksharshruti/platform/libs/logging"
	"github.com/aksharshruti/platform/libs/metrics"
	"github.com/aksharshruti/platform/libs/trace"
	"github.com/aksharshruti/platform/services/auth/internal/config"
	"github.com/aksharshruti/platform/services/auth/internal/consumer"
	"github.com/aksharshruti/platform/services/auth/internal/events"
	"github.com/aksharshruti/platform/services/auth/internal/handlers"
	"github.com/aksharshruti/platform/services/auth/internal/rate"
	"github.com/aksharshruti/platform/services/auth/internal/security"
	"github.com/aksharshruti/platform/services/auth/internal/session"
	"github.com/aksharshruti/platform/services/auth/internal/storage"
	"github.com/aksharshruti/platform/services/auth/internal/sweeper"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat, cfg.App.ServiceName, cfg.App.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := trace.InitTracer(ctx, cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(ctx, cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DB.Migrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("db migration failed", "error", err)
			os.Exit(1)
		}
	}

	store := storage.New(pool, storage.WithQueryTimeout(cfg.DB.QueryTimeout))
	ready.AddCheck("postgres", store.Ping)

	limiter, limiterClose, err := buildLimiter(ctx, cfg, logger, ready)
	if err != nil {
		logger.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = limiterClose()
	}()

	codec, err := auth.NewCodec([]byte(cfg.JWT.Secret),
		auth.WithIssuer(cfg.JWT.Issuer),
		auth.WithAccessTTL(cfg.JWT.AccessTTL),
		auth.WithRefreshTTL(cfg.JWT.RefreshTTL),
	)
	if err != nil {
		logger.Error("token codec init failed", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup

	publisher, closeKafka, err := buildEvents(cfg, logger, registry)
	if err != nil {
		logger.Error("kafka init failed", "error", err)
		os.Exit(1)
	}
	defer closeKafka()

	manager := session.NewManager(store, codec, security.NewHasher(cfg.Argon2.Params()),
		session.WithLogger(logger),
		session.WithPublisher(publisher),
	)

	if cfg.Kafka.Enabled() {
		if err := startModerationConsumer(ctx, cfg, manager, logger, &wg); err != nil {
			logger.Error("moderation consumer init failed", "error", err)
			os.Exit(1)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.New(store, cfg.SweepInterval, logger).Run(ctx)
	}()

	policies := handlers.Policies{
		Register:       cfg.RateLimit.Register.Policy(),
		Login:          cfg.RateLimit.Login.Policy(),
		Refresh:        cfg.RateLimit.Refresh.Policy(),
		ChangePassword: cfg.RateLimit.ChangePassword.Policy(),
		Read:           cfg.RateLimit.Read.Policy(),
	}
	authHandler := handlers.NewAuthHandler(manager, codec, limiter, policies, logger)

	router := gin.New()
	if err := httpmiddleware.TrustClientIPSources(router, cfg.App.HTTP.TrustedProxies, cfg.App.HTTP.BehindCloudflare); err != nil {
		logger.Error("invalid trusted proxies", "error", err)
		os.Exit(1)
	}
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	authHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.App.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("auth service starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()
	grpcServer, err := startGRPCHealth(ctx, cfg, ready, logger, &wg)
	if err != nil {
		logger.Error("grpc health init failed", "error", err)
		os.Exit(1)
	}
	ready.SetReady(true)

	<-ctx.Done()
	ready.SetReady(false)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	shutdown(server, cfg.App.HTTP.ShutdownTimeout, logger)
	wg.Wait()
}

// startGRPCHealth serves the gRPC health protocol when a port is configured.
// It returns a nil server otherwise.
func startGRPCHealth(ctx context.Context, cfg *config.Config, ready *health.Manager, logger *slog.Logger, wg *sync.WaitGroup) (*grpc.Server, error) {
	if cfg.GRPCHealth.Port == 0 {
		return nil, nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.GRPCHealth.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	reporter := health.NewGRPCReporter(ready, cfg.App.ServiceName)
	reporter.Register(grpcServer)

	wg.Add(2)
	go func() {
		defer wg.Done()
		reporter.Run(ctx, cfg.GRPCHealth.Interval)
	}()
	go func() {
		defer wg.Done()
		logger.Info("grpc health starting", "addr", addr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc health server error", "error", err)
		}
	}()
	return grpcServer, nil
}

func connectDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// buildLimiter prefers Redis. A configured but unreachable Redis is still
// used; requests fail open until it recovers.
func buildLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready *health.Manager) (rate.Limiter, func() error, error) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis rate limiter unreachable at startup", "error", err)
		}
		ready.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})

		return rate.NewRedisLimiter(client, cfg.Redis.Prefix), client.Close, nil
	}

	if cfg.App.IsDev() {
		logger.Warn("redis not configured, using in-process rate limiter")
		return rate.NewMemory(time.Minute), func() error { return nil }, nil
	}

	return nil, nil, fmt.Errorf("rate limiter redis not configured")
}

func buildEvents(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) (events.Publisher, func(), error) {
	if !cfg.Kafka.Enabled() {
		logger.Info("kafka not configured, security events disabled")
		return events.NoopPublisher{}, func() {}, nil
	}

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger, kafka.NewProducerMetrics(registry))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", "error", err)
		}
	}
	withDLQ := kafka.NewDLQPublisher(producer, producer, cfg.Kafka.EventsDLQTopic, logger)
	return events.NewKafkaPublisher(withDLQ, cfg.Kafka.EventsTopic, logger), closeFn, nil
}

func startModerationConsumer(ctx context.Context, cfg *config.Config, manager *session.Manager, logger *slog.Logger, wg *sync.WaitGroup) error {
	dlqProducer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID+"-dlq", logger, nil)
	if err != nil {
		return err
	}
	c, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.ConsumerGroup,
		DLQTopic: cfg.Kafka.DLQTopic,
	}, dlqProducer, logger)
	if err != nil {
		_ = dlqProducer.Close()
		return err
	}

	handler := consumer.NewModerationConsumer(manager, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			_ = c.Close()
			_ = dlqProducer.Close()
		}()
		if err := c.Consume(ctx, []string{cfg.Kafka.ModerationTopic}, handler); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("moderation consumer stopped", "error", err)
		}
	}()
	return nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *slog.Logger) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
