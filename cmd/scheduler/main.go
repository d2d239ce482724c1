// Scheduler worker entry point for MediMorph.  Runs the reminder sweep loop
// and the outbox dispatcher in one process, plus a small health and metrics
// endpoint for probes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medimorph/medimorph/internal/config"
	"github.com/medimorph/medimorph/internal/infrastructure/database/postgres"
	"github.com/medimorph/medimorph/internal/infrastructure/database/postgres/repositories"
	"github.com/medimorph/medimorph/internal/infrastructure/database/redis"
	"github.com/medimorph/medimorph/internal/infrastructure/messaging/kafka"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/prometheus"
	"github.com/medimorph/medimorph/internal/notification"
	"github.com/medimorph/medimorph/internal/scheduling"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	healthPort := flag.Int("health-port", 8081, "health and metrics endpoint port")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting MediMorph scheduler worker",
		logging.Int("partitions", cfg.Scheduling.Partitions),
		logging.Duration("tick_interval", cfg.Scheduling.TickInterval))

	if err := run(cfg, *healthPort, logger); err != nil {
		logger.Error("Scheduler worker exited with error", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, healthPort int, logger logging.Logger) error {
	conn, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer conn.Close()

	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	lease, err := redis.NewPartitionLease(redisClient, cfg.Scheduling.LeaseTTL, logger)
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}

	producer, err := kafka.NewProducer(cfg.Kafka, logger)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	defer producer.Close()

	db := conn.DB()
	medications := repositories.NewMedicationRepository(db, logger)
	events := repositories.NewDoseEventRepository(db, cfg.Scheduling.Partitions, logger)
	outbox := repositories.NewOutboxRepository(db, logger)

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            "medimorph",
		Subsystem:            "scheduler",
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	appMetrics := prometheus.NewAppMetrics(collector)

	enqueuer := notification.NewEnqueuer(outbox, medications, logger)
	scheduler, err := scheduling.NewScheduler(events, lease, enqueuer,
		scheduling.SchedulerConfig{
			TickInterval: cfg.Scheduling.TickInterval,
			GraceWindow:  cfg.Scheduling.GraceWindow,
			Partitions:   cfg.Scheduling.Partitions,
			BatchSize:    cfg.Dispatch.OutboxBatch,
		},
		prometheus.NewSchedulerMetrics(appMetrics), logger)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	channel := kafka.NewReminderChannel(producer, logger)
	dispatcher, err := notification.NewDispatcher(outbox, channel, events,
		notification.DispatcherConfig{
			PollInterval: cfg.Dispatch.DrainInterval,
			BatchSize:    cfg.Dispatch.OutboxBatch,
			MaxAttempts:  cfg.Dispatch.MaxRetries,
			BaseBackoff:  cfg.Dispatch.RetryBackoff,
		},
		prometheus.NewDispatchMetrics(appMetrics), logger)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthSrv := healthServer(healthPort, collector, conn, redisClient)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		err := healthSrv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return healthSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("Scheduler worker stopped")
		return nil
	}
	return err
}

func healthServer(port int, collector prometheus.MetricsCollector, conn *postgres.Connection, redisClient *redis.Client) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := conn.HealthCheck(ctx); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(ctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})
	mux.Handle("/metrics", collector.Handler())

	return &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
