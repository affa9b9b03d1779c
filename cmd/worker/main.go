// The worker binary runs the experiment lifecycle sweeper: auto-completion
// of expired experiments, retention archiving, and periodic summary events.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/propelkit/experiments/internal/application/sweep"
	"github.com/propelkit/experiments/internal/config"
	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/database/postgres"
	"github.com/propelkit/experiments/internal/infrastructure/database/postgres/repositories"
	"github.com/propelkit/experiments/internal/infrastructure/messaging/kafka"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
)

// Version is injected at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file (default: ABX_* environment variables)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
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
	log = log.Named("worker")
	log.Info("starting experiments worker",
		logging.String("version", Version),
		logging.Duration("completion_interval", cfg.Sweep.CompletionInterval),
		logging.Duration("archive_interval", cfg.Sweep.ArchiveInterval))

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
	sweepOpts := []sweep.Option{
		sweep.WithIntervals(cfg.Sweep.CompletionInterval, cfg.Sweep.ArchiveInterval),
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		notifier := kafka.NewNotifier(producer)
		serviceOpts = append(serviceOpts, experiment.WithNotifier(notifier))
		sweepOpts = append(sweepOpts, sweep.WithNotifier(notifier))
	}

	svc := experiment.NewService(experimentRepo, assignmentRepo, conversionRepo, log, serviceOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := sweep.New(svc, log, sweepOpts...)
	sweeper.Run(ctx, sweep.NewTickerClock())

	<-ctx.Done()
	log.Info("worker stopped")
	return nil
}
