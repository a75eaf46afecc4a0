package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/clinrecs/clinical-records-api/api/swagger"
	"github.com/clinrecs/clinical-records-api/internal/handler"
	"github.com/clinrecs/clinical-records-api/internal/middleware"
	"github.com/clinrecs/clinical-records-api/internal/models"
	"github.com/clinrecs/clinical-records-api/internal/repository"
	"github.com/clinrecs/clinical-records-api/internal/service"
	"github.com/clinrecs/clinical-records-api/pkg/cache"
	"github.com/clinrecs/clinical-records-api/pkg/config"
	"github.com/clinrecs/clinical-records-api/pkg/database"
	"github.com/clinrecs/clinical-records-api/pkg/export"
	"github.com/clinrecs/clinical-records-api/pkg/logger"
	corsmiddleware "github.com/clinrecs/clinical-records-api/pkg/middleware/cors"
	reqidmiddleware "github.com/clinrecs/clinical-records-api/pkg/middleware/requestid"
	"github.com/clinrecs/clinical-records-api/pkg/storage"
)

// @title Clinical Records API
// @version 1.0.0
// @description Review and validation workflow for student-authored medical files
// @BasePath /api/v1
// @schemes http

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	blobs, err := storage.NewLocalStorage(cfg.Snapshots.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("snapshot storage init failed", "error", err)
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	validationRepo := repository.NewValidationRepository(db)
	fileRepo := repository.NewMedicalFileRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Services.
	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("redis connection failed", "error", err)
		}
		defer redisClient.Close() //nolint:errcheck
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
	}

	auditSvc := service.NewAuditService(auditRepo, cfg.Audit, logr)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	authSvc := service.NewAuthService(userRepo, fileRepo, auditSvc, cfg.JWT, logr)

	signer := storage.NewSignedURLSigner(cfg.Snapshots.SignedURLSecret, cfg.Snapshots.SignedURLTTL)
	snapshotSvc := service.NewSnapshotService(snapshotRepo, export.NewSnapshotPDF(), blobs, signer, cfg.APIPrefix, logr)

	validationSvc := service.NewValidationService(validationRepo, userRepo, cacheSvc, logr)
	fileSvc := service.NewMedicalFileService(fileRepo, userRepo, snapshotSvc, cacheSvc, logr)
	workflowSvc := service.NewWorkflowService(userRepo, validationSvc, fileSvc, auditSvc, metricsSvc, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	validationHandler := handler.NewValidationHandler(workflowSvc, validationSvc)
	fileHandler := handler.NewFileHandler(workflowSvc, fileSvc, snapshotSvc)
	adminHandler := handler.NewAdminHandler(workflowSvc, authSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if metricsSvc != nil {
		r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

		validations := api.Group("/validations", middleware.JWT(authSvc))
		validations.POST("/requests",
			middleware.RequireRoles(models.RoleStudent, models.RolePatient),
			validationHandler.Request)
		validations.GET("/pending",
			middleware.RequireRoles(models.RoleProfessional, models.RoleStudent),
			middleware.ResponseMeta(),
			validationHandler.Pending)
		validations.POST("/requests/:requesterId/decide",
			middleware.RequireRoles(models.RoleProfessional, models.RoleStudent),
			validationHandler.Decide)

		files := api.Group("/files", middleware.JWT(authSvc))
		files.GET("/mine", middleware.RequireRoles(models.RolePatient), fileHandler.Mine)
		files.GET("/review",
			middleware.RequireRoles(models.RoleProfessional),
			middleware.ResponseMeta(),
			fileHandler.ReviewQueue)
		files.GET("/:id", fileHandler.Get)
		files.POST("/:id/submit", middleware.RequireRoles(models.RoleStudent), fileHandler.Submit)
		files.POST("/:id/review", middleware.RequireRoles(models.RoleProfessional), fileHandler.Review)
		files.POST("/:id/confirm", middleware.RequireRoles(models.RolePatient), fileHandler.Confirm)
		files.PUT("/:id/background/:section", middleware.RequireRoles(models.RoleStudent), fileHandler.UpsertBackground)
		files.GET("/:id/snapshots", fileHandler.Snapshots)
		files.GET("/:id/snapshots/:version/download",
			middleware.Audit(auditSvc, models.AuditActionSnapshotDownload, "snapshot"),
			fileHandler.DownloadSnapshot)

		// Token-authorised, no JWT: the signed token is the credential.
		api.GET("/snapshots/content", fileHandler.SnapshotContent)

		admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
		admin.GET("/users", adminHandler.ListUsers)
		admin.POST("/professionals/:id/validate", adminHandler.ValidateProfessional)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("server stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
