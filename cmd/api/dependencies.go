package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	importhandler "github.com/FACorreiaa/finance-import/internal/domain/import/handler"
	importrepo "github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finance-import/internal/domain/import/service"
	"github.com/FACorreiaa/finance-import/pkg/config"
	"github.com/FACorreiaa/finance-import/pkg/cron"
	"github.com/FACorreiaa/finance-import/pkg/db"
	"github.com/FACorreiaa/finance-import/pkg/observability"
	"github.com/FACorreiaa/finance-import/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	Registry *prometheus.Registry
	Metrics  *observability.ImportMetrics

	ImportRepo    importrepo.ImportRepository
	FileStorage   storage.Storage
	ImportService *importservice.ImportService
	ImportHandler *importhandler.ImportHandler
	Scheduler     *cron.Scheduler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initMetrics()
	deps.ImportRepo = importrepo.NewPostgresImportRepository(deps.DB.Pool)

	if err := deps.initServices(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.ImportHandler = importhandler.NewImportHandler(deps.ImportService, logger, cfg.Server.MaxUploadBytes)
	deps.Scheduler = cron.NewScheduler(deps.ImportService, cfg.Import.CleanupSchedule, cfg.Import.StaleUploadTTL, logger)

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// Swapped in tests
var (
	openDatabase  = db.New
	runMigrations = (*db.DB).RunMigrations
)

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := openDatabase(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	if err := runMigrations(database); err != nil {
		database.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.DB = database
	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initMetrics() {
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewImportMetrics(d.Registry)
}

// initServices builds the file store and the import service
func (d *Dependencies) initServices(ctx context.Context) error {
	fileStorage, err := storage.New(ctx, &storage.Config{
		Type:            storage.StorageType(d.Config.Storage.Type),
		LocalPath:       d.Config.Storage.LocalPath,
		GCSBucket:       d.Config.Storage.GCSBucket,
		GCSPrefix:       d.Config.Storage.GCSPrefix,
		CredentialsFile: d.Config.Storage.CredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage

	d.ImportService = importservice.NewImportService(d.ImportRepo, d.FileStorage, d.Logger).
		WithMetrics(d.Metrics).
		WithOptions(importservice.Options{
			PreviewRows:      d.Config.Import.PreviewRows,
			StrictCategories: d.Config.Import.StrictCategories,
		})

	d.Logger.Info("services initialized",
		slog.String("storage", d.Config.Storage.Type),
		slog.Bool("strict_categories", d.Config.Import.StrictCategories),
	)
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if c, ok := d.FileStorage.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.Logger.Error("failed to close file storage", slog.Any("error", err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
