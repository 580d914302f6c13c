// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"triage/internal/adapter/storage"
	"triage/internal/config"
	"triage/internal/domain/correlation"
	"triage/internal/server"
	"triage/internal/service/classify"
	"triage/internal/service/correlate"
	"triage/internal/service/match"
)

func main() {
	// Load .env if present; real environments set variables directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	natsConn, err := initNATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()

	// Initialize storage adapters
	reportStore := storage.NewReportStore(db)
	incidentStore := storage.NewIncidentStore(db)

	// Deterministic matching stages
	matchConfig := match.Config{
		TimeWindow:          time.Duration(cfg.Matching.TimeWindowMinutes) * time.Minute,
		DistanceThresholdKm: cfg.Matching.DistanceThresholdKm,
		SimilarityThreshold: cfg.Matching.SimilarityThreshold,
		MinCommonWords:      cfg.Matching.MinCommonWords,
		ActiveStatuses:      cfg.Matching.ActiveStatuses,
	}
	candidateFilter := match.NewCandidateFilter(matchConfig, logger)
	scorer := match.NewScorer(matchConfig, logger)

	// Semantic classifier gateway. Left nil when disabled; the engine
	// falls back to deterministic scoring.
	var classifier correlation.Classifier
	if cfg.Classifier.Enabled {
		classifier = classify.NewGateway(classify.Config{
			BaseURL: cfg.Classifier.BaseURL,
			APIKey:  cfg.Classifier.APIKey,
			Timeout: cfg.Classifier.Timeout,
		}, logger)
	}

	// Initialize correlation engine
	engine := correlate.NewEngine(
		reportStore,
		incidentStore,
		classifier,
		candidateFilter,
		scorer,
		natsConn,
		correlate.Config{
			CheckInterval:       cfg.Engine.CheckInterval,
			ClassifierTimeout:   cfg.Classifier.Timeout,
			ClassifierEnabled:   cfg.Classifier.Enabled,
			MaxConcurrentGroups: cfg.Engine.MaxConcurrentGroups,
			StorageRetries:      cfg.Engine.StorageRetries,
			RetryBackoff:        cfg.Engine.RetryBackoff,
			DegradeAfter:        cfg.Engine.DegradeAfter,
			EventsTopic:         cfg.Engine.EventsTopic,
			ActiveStatuses:      cfg.Matching.ActiveStatuses,
		},
		logger,
	)

	// Start the correlation engine
	if err := engine.Start(ctx); err != nil {
		logger.Fatalf("Failed to start correlation engine: %v", err)
	}

	// Initialize HTTP server
	httpServer := server.NewServer(
		cfg.Server,
		natsConn,
		reportStore,
		incidentStore,
		engine,
		cfg.Engine.EventsTopic,
		logger,
	)

	// Start HTTP server
	go func() {
		logger.Infof("Starting HTTP server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Info("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	logger.Info("Shutting down services...")

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	// Stop correlation engine
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Errorf("Correlation engine shutdown error: %v", err)
	}

	logger.Info("Shutdown complete")
}

// newLogger builds the process-wide logger
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger *logrus.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
