// Package internal contains core application functionality
package internal

import (
	"fmt"
	"time"

	"github.com/karloscodes/cartridge"

	"visitly/internal/aggregation"
	"visitly/internal/config"
	"visitly/internal/database"
	"visitly/internal/geo"
	"visitly/internal/jobs"
	"visitly/internal/ratelimit"
)

// Application wraps cartridge.Application with visitly-specific components
type Application struct {
	*cartridge.Application
	DBManager  *database.DBManager
	Aggregator *aggregation.Aggregator
	Limiter    *ratelimit.Limiter
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)
	geo.InitLogger(logger)

	// Initialize database manager (visitly-specific with migration methods)
	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimitMaxRequests,
		time.Duration(cfg.RateLimitWindowSeconds)*time.Second)
	aggregator := aggregation.New(dbManager, logger,
		time.Duration(cfg.GetAggregationCutoff())*time.Second)

	scheduler, err := jobs.NewScheduler(dbManager, logger, aggregator, limiter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountAppRoutes(srv, limiter, aggregator)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Aggregator:  aggregator,
		Limiter:     limiter,
	}, nil
}
