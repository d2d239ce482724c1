// API server entry point for MediMorph.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/medimorph/medimorph/internal/compliance"
	"github.com/medimorph/medimorph/internal/config"
	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/internal/domain/prescription"
	"github.com/medimorph/medimorph/internal/extraction"
	"github.com/medimorph/medimorph/internal/infrastructure/database/postgres"
	"github.com/medimorph/medimorph/internal/infrastructure/database/postgres/repositories"
	"github.com/medimorph/medimorph/internal/infrastructure/database/redis"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/prometheus"
	"github.com/medimorph/medimorph/internal/infrastructure/ocr"
	"github.com/medimorph/medimorph/internal/infrastructure/storage/minio"
	httpserver "github.com/medimorph/medimorph/internal/interfaces/http"
	"github.com/medimorph/medimorph/internal/interfaces/http/handlers"
	"github.com/medimorph/medimorph/internal/interfaces/http/middleware"
	"github.com/medimorph/medimorph/internal/scheduling"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
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
	logger.Info("Starting MediMorph API server",
		logging.Int("port", cfg.Server.Port))

	if err := run(cfg, logger); err != nil {
		logger.Error("API server exited with error", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	// Storage tier.
	if err := postgres.RunMigrations(postgres.DSN(cfg.Database), cfg.Database.MigrationPath); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
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
	cache := redis.NewCache(redisClient, cfg.Redis.CacheTTL, logger)

	imageStore, err := minio.NewImageStore(cfg.MinIO, logger)
	if err != nil {
		return fmt.Errorf("minio: %w", err)
	}

	// Repositories.
	db := conn.DB()
	medications := repositories.NewMedicationRepository(db, logger)
	events := repositories.NewDoseEventRepository(db, cfg.Scheduling.Partitions, logger)
	uploads := repositories.NewUploadRepository(db, logger)

	// Metrics.
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            "medimorph",
		Subsystem:            "apiserver",
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	appMetrics := prometheus.NewAppMetrics(collector)

	// Extraction pipeline.
	dictionary, err := buildDictionary(cfg.Extraction.VocabularyPath)
	if err != nil {
		return fmt.Errorf("vocabulary: %w", err)
	}
	extractor, err := extraction.NewExtractor(dictionary, extraction.NewHeuristicModel(),
		extraction.Config{
			MinConfidence: cfg.Extraction.MinConfidence,
			MaxTextLength: cfg.Extraction.MaxTextLength,
		},
		prometheus.NewExtractionMetrics(appMetrics), logger)
	if err != nil {
		return fmt.Errorf("extractor: %w", err)
	}

	ocrClient, err := ocr.NewClient(cfg.OCR, logger)
	if err != nil {
		return fmt.Errorf("ocr: %w", err)
	}

	// Domain services.
	windowStart, windowEnd, err := cfg.Scheduling.WindowMinutes()
	if err != nil {
		return fmt.Errorf("waking window: %w", err)
	}
	compiler, err := scheduling.NewCompiler(scheduling.CompilerConfig{
		WindowStartMin: windowStart,
		WindowEndMin:   windowEnd,
		MaxHorizonDays: cfg.Scheduling.MaxHorizonDays,
		Location:       time.UTC,
	})
	if err != nil {
		return fmt.Errorf("compiler: %w", err)
	}

	medicationSvc, err := medication.NewService(medications, events, compiler, nil, logger)
	if err != nil {
		return fmt.Errorf("medication service: %w", err)
	}
	prescriptionSvc, err := prescription.NewService(uploads, imageStore, ocrClient, extractor, medicationSvc, logger)
	if err != nil {
		return fmt.Errorf("prescription service: %w", err)
	}
	tracker := compliance.NewTracker(events, medications, logger)

	// HTTP surface.
	router := httpserver.NewRouter(httpserver.RouterConfig{
		PrescriptionHandler: handlers.NewPrescriptionHandler(prescriptionSvc, logger),
		MedicationHandler:   handlers.NewMedicationHandler(medicationSvc, logger),
		ReminderHandler:     handlers.NewReminderHandler(events, tracker, logger),
		ComplianceHandler:   handlers.NewComplianceHandler(tracker, cache, logger),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Probe{
			"postgres": conn.HealthCheck,
			"redis":    redisClient.Ping,
			"minio":    imageStore.HealthCheck,
		}, logger),
		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{}, logger),

		Logger:           logger,
		AppMetrics:       appMetrics,
		MetricsCollector: collector,
	})
	server := httpserver.NewServer(cfg.Server.Port, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Shutdown signal received", logging.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// buildDictionary merges an optional operator-supplied vocabulary file over
// the built-in medication name list.
func buildDictionary(path string) (*extraction.Dictionary, error) {
	names := extraction.DefaultVocabulary()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			names = append(names, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	return extraction.NewDictionary(names)
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
