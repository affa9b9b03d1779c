// The apiserver binary serves the experiments HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/propelkit/experiments/internal/config"
	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/database/postgres"
	"github.com/propelkit/experiments/internal/infrastructure/database/postgres/repositories"
	"github.com/propelkit/experiments/internal/infrastructure/database/redis"
	"github.com/propelkit/experiments/internal/infrastructure/messaging/kafka"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/propelkit/experiments/internal/interfaces/http"
	"github.com/propelkit/experiments/internal/interfaces/http/handlers"
	"github.com/propelkit/experiments/internal/interfaces/http/middleware"
)

// Version is injected at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file (default: ABX_* environment variables)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return err
	}

	log, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	log = log.Named("apiserver")
	log.Info("starting experiments apiserver",
		logging.String("version", Version),
		logging.Int("port", cfg.Server.Port))

	conn, err := postgres.NewConnection(cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.RunMigrations(); err != nil {
		return err
	}

	experimentRepo := repositories.NewPostgresExperimentRepo(conn, log)
	assignmentRepo := repositories.NewPostgresAssignmentRepo(conn, log)
	conversionRepo := repositories.NewPostgresConversionRepo(conn, log)

	serviceOpts := []experiment.Option{}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		serviceOpts = append(serviceOpts, experiment.WithNotifier(kafka.NewNotifier(producer)))
	}

	svc := experiment.NewService(experimentRepo, assignmentRepo, conversionRepo, log, serviceOpts...)

	healthCheckers := []handlers.HealthChecker{
		handlers.CheckerFunc{ComponentName: "postgres", Fn: conn.HealthCheck},
	}

	var resultsProvider handlers.ResultsProvider = svc
	var invalidator handlers.ResultsInvalidator
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Config, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		cache := redis.NewResultsCache(redisClient, svc, cfg.Redis.ResultsTTL, log)
		resultsProvider = cache
		invalidator = cache
		healthCheckers = append(healthCheckers,
			handlers.CheckerFunc{ComponentName: "redis", Fn: redisClient.HealthCheck})
	}

	routerCfg := httpserver.RouterConfig{
		ExperimentHandler: handlers.NewExperimentHandler(svc, invalidator),
		PublicHandler:     handlers.NewPublicHandler(svc, resultsProvider, invalidator),
		HealthHandler:     handlers.NewHealthHandler(Version, healthCheckers...),
		Logger:            log,
		Mode:              cfg.Server.Mode,
	}

	if cfg.Metrics.Enabled {
		collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, log)
		if err != nil {
			return err
		}
		routerCfg.Metrics = prometheus.NewAppMetrics(collector)
		routerCfg.MetricsHTTP = collector.Handler()
	}

	if cfg.Server.RateLimitRPS > 0 {
		rl := middleware.DefaultRateLimitConfig(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		routerCfg.RateLimit = &rl
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpserver.NewRouter(routerCfg), log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutdown signal received", logging.String("signal", sig.String()))
	}

	if err := server.Stop(context.Background()); err != nil {
		return err
	}
	log.Info("apiserver stopped")
	return nil
}
