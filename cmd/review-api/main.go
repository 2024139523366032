package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/portfolio-review-api/api/swagger"
	"github.com/noah-isme/portfolio-review-api/internal/handler"
	internalmiddleware "github.com/noah-isme/portfolio-review-api/internal/middleware"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	"github.com/noah-isme/portfolio-review-api/internal/repository"
	"github.com/noah-isme/portfolio-review-api/internal/service"
	"github.com/noah-isme/portfolio-review-api/pkg/cache"
	"github.com/noah-isme/portfolio-review-api/pkg/config"
	"github.com/noah-isme/portfolio-review-api/pkg/database"
	"github.com/noah-isme/portfolio-review-api/pkg/export"
	"github.com/noah-isme/portfolio-review-api/pkg/jobs"
	"github.com/noah-isme/portfolio-review-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/portfolio-review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/portfolio-review-api/pkg/middleware/requestid"
	"github.com/noah-isme/portfolio-review-api/pkg/storage"
)

// @title Portfolio Review API
// @version 1.0.0
// @description Distributed review of order portfolios
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sqlx.DB
	if cfg.Database.Enabled {
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer db.Close()
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, db, logr); err != nil {
				logr.Fatal("failed to migrate database", zap.Error(err))
			}
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, continuing without it", zap.Error(err))
		} else {
			defer redisClient.Close()
		}
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	backend, err := snapshotBackend(cfg, db, redisClient, logr)
	if err != nil {
		logr.Fatal("failed to prepare snapshot backend", zap.Error(err))
	}
	snapshots := service.NewSnapshotStore(backend, service.SnapshotStoreConfig{
		TTL:        cfg.Snapshots.TTL,
		SampleRows: cfg.Snapshots.SampleRows,
		PutRetries: cfg.Snapshots.PutRetries,
		RetryDelay: cfg.Snapshots.RetryDelay,
		OpTimeout:  cfg.Snapshots.OpTimeout,
	}, metricsSvc, logr)
	go sweepSnapshots(ctx, snapshots, cfg.Snapshots.SweepInterval, logr)

	batches, canonical, err := stateRepositories(cfg, db)
	if err != nil {
		logr.Fatal("failed to prepare state store", zap.Error(err))
	}

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Projection.CacheTTL, logr, cfg.Projection.CacheEnabled)

	if cfg.Access.Secret == "" {
		logr.Warn("ACCESS_TOKEN_SECRET is empty, reviewer tokens are derivable from public data")
	}
	accessSvc := service.NewAccessService(service.AccessServiceConfig{
		Secret:      cfg.Access.Secret,
		TokenLength: cfg.Access.TokenLength,
		BaseURL:     cfg.Access.BaseURL,
	}, snapshots, metricsSvc, logr)
	batchSvc := service.NewBatchService(batches, accessSvc, metricsSvc, logr)
	consolidationSvc := service.NewConsolidationService(canonical, batches, snapshots, cacheSvc, metricsSvc, logr)
	projectionSvc := service.NewProjectionService(snapshots, canonical, cacheSvc, cfg.Projection.CacheTTL, metricsSvc, logr)
	authSvc := service.NewAuthService(validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		AdminUsername:     cfg.Admin.Username,
		AdminPasswordHash: cfg.Admin.PasswordHash,
	})
	if cfg.Admin.PasswordHash == "" {
		logr.Warn("ADMIN_PASSWORD_HASH is empty, administrator login is disabled")
	}

	var reportHandler *handler.ReportHandler
	if cfg.Reports.Enabled {
		reportSvc, queue, err := reportPipeline(ctx, cfg, db, projectionSvc, canonical, validate, logr)
		if err != nil {
			logr.Fatal("failed to prepare reports", zap.Error(err))
		}
		defer queue.Stop()
		reportHandler = handler.NewReportHandler(reportSvc)
	}

	ready := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(pingCtx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, ready)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	accessHandler := handler.NewAccessHandler(accessSvc, validate)
	batchHandler := handler.NewBatchHandler(batchSvc)
	snapshotHandler := handler.NewSnapshotHandler(snapshots, validate)
	consolidationHandler := handler.NewConsolidationHandler(consolidationSvc)
	projectionHandler := handler.NewProjectionHandler(projectionSvc)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/access", accessHandler.Open)
	api.POST("/batches", batchHandler.Submit)
	if reportHandler != nil {
		api.GET("/export/:token", reportHandler.Download)
	}

	admin := api.Group("")
	admin.Use(internalmiddleware.JWT(authSvc), internalmiddleware.RequireRoles(models.RoleAdmin))
	admin.GET("/auth/me", authHandler.Me)

	adminRoutes := admin.Group("/admin")
	adminRoutes.POST("/snapshots", internalmiddleware.Audit(logr, "snapshot.ingest"), snapshotHandler.Ingest)
	adminRoutes.GET("/snapshots/latest", snapshotHandler.Latest)
	adminRoutes.DELETE("/snapshots/:fingerprint", internalmiddleware.Audit(logr, "snapshot.invalidate"), snapshotHandler.Invalidate)
	adminRoutes.POST("/links", internalmiddleware.Audit(logr, "links.issue"), accessHandler.IssueLinks)
	adminRoutes.GET("/batches", batchHandler.List)
	adminRoutes.POST("/consolidations", internalmiddleware.Audit(logr, "consolidation.run"), consolidationHandler.Run)
	adminRoutes.GET("/canonical", consolidationHandler.Canonical)
	adminRoutes.GET("/projection", projectionHandler.Get)
	adminRoutes.GET("/metrics", metricsHandler.Summary)
	if reportHandler != nil {
		adminRoutes.POST("/reports", internalmiddleware.Audit(logr, "report.create"), reportHandler.Generate)
		adminRoutes.GET("/reports/:id", reportHandler.Status)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "snapshot_backend", cfg.Snapshots.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func snapshotBackend(cfg *config.Config, db *sqlx.DB, client *redis.Client, logr *zap.Logger) (service.SnapshotBackend, error) {
	switch cfg.Snapshots.Backend {
	case config.SnapshotBackendRedis:
		if client != nil {
			return repository.NewRedisSnapshotRepository(client), nil
		}
		logr.Warn("snapshot backend redis requested without redis, falling back to files")
	case config.SnapshotBackendPostgres:
		if db != nil {
			return repository.NewPostgresSnapshotRepository(db), nil
		}
		logr.Warn("snapshot backend postgres requested without database, falling back to files")
	}
	files, err := storage.NewLocalStorage(cfg.Snapshots.StorageDir)
	if err != nil {
		return nil, err
	}
	return repository.NewFileSnapshotRepository(files), nil
}

func stateRepositories(cfg *config.Config, db *sqlx.DB) (service.BatchRepository, service.CanonicalRepository, error) {
	if db != nil {
		return repository.NewPostgresBatchRepository(db), repository.NewPostgresCanonicalRepository(db), nil
	}
	files, err := storage.NewLocalStorage(cfg.State.Dir)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewFileBatchRepository(files), repository.NewFileCanonicalRepository(files), nil
}

func reportPipeline(ctx context.Context, cfg *config.Config, db *sqlx.DB, projections *service.ProjectionService, canonical service.CanonicalRepository, validate *validator.Validate, logr *zap.Logger) (*service.ReportService, *jobs.Queue, error) {
	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exporter := service.NewExportService(projections, canonical, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, export.NewCSVExporter(), export.NewPDFExporter())

	var repo service.ReportJobStore
	if db != nil {
		repo = repository.NewReportRepository(db)
	} else {
		logr.Warn("database disabled, report jobs are kept in memory")
		repo = repository.NewMemoryReportRepository()
	}

	worker := service.NewReportWorker(repo, exporter, logr)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: time.Second,
		OnFailure:  worker.Fail,
		Logger:     logr,
	})
	queue.Start(ctx)

	reportSvc := service.NewReportService(repo, queue, exporter, validate, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
	})
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)
	return reportSvc, queue, nil
}

func sweepSnapshots(ctx context.Context, store *service.SnapshotStore, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep(ctx)
			if err != nil {
				logr.Warn("snapshot sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logr.Info("expired snapshots removed", zap.Int("count", removed))
			}
		}
	}
}
