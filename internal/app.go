// Package internal contains core application functionality
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"visitorlens/internal/analytics"
	"visitorlens/internal/config"
	"visitorlens/internal/database"
	"visitorlens/internal/gadata"
	"visitorlens/internal/http"
	"visitorlens/internal/jobs"
)

// Application wraps cartridge.Application with the reporting components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager // run ledger manager with migration methods
	Engine    *analytics.Engine
	Scheduler *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	// Create logger
	logger := cartridge.NewLogger(cfg, nil)

	// Initialize the run ledger database
	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize background jobs
	scheduler, err := jobs.NewScheduler(dbManager, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	engine, breaker := NewEngine(context.Background(), cfg, logger)

	var source http.SourceState
	if breaker != nil {
		source = breaker.State
	}
	reports := http.NewReports(engine, source)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountAppRoutes(srv, reports)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Engine:      engine,
		Scheduler:   scheduler,
	}, nil
}

// NewEngine builds the reconstruction engine over the configured analytics
// source, guarded by a circuit breaker. Without a usable source the engine is
// still returned; every report then fails with ErrAdapterUnavailable and the
// returned breaker is nil.
func NewEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*analytics.Engine, *gadata.BreakerRunner) {
	opts := analytics.OptionsFromConfig(cfg)

	client, err := gadata.NewAnalyticsDataRunner(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Analytics source not configured", slog.Any("error", err))
		return analytics.NewEngine(nil, logger, opts), nil
	}

	breaker := gadata.NewBreakerRunner(client, gadata.BreakerSettings{
		Name:         "analytics-data",
		MinRequests:  uint32(cfg.BreakerMinRequests),
		FailureRatio: cfg.BreakerFailureRatio,
		OpenTimeout:  time.Duration(cfg.BreakerTimeoutSeconds) * time.Second,
	}, logger)

	return analytics.NewEngine(breaker, logger, opts), breaker
}
