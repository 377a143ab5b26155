package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/brightclass/file-api/api/swagger"
	"github.com/brightclass/file-api/internal/dto"
	"github.com/brightclass/file-api/internal/handler"
	"github.com/brightclass/file-api/internal/middleware"
	"github.com/brightclass/file-api/internal/ratelimit"
	"github.com/brightclass/file-api/internal/repository"
	"github.com/brightclass/file-api/internal/security"
	"github.com/brightclass/file-api/internal/service"
	"github.com/brightclass/file-api/internal/storage"
	"github.com/brightclass/file-api/internal/token"
	"github.com/brightclass/file-api/pkg/cache"
	"github.com/brightclass/file-api/pkg/config"
	"github.com/brightclass/file-api/pkg/database"
	"github.com/brightclass/file-api/pkg/logger"
	corsmiddleware "github.com/brightclass/file-api/pkg/middleware/cors"
	reqidmiddleware "github.com/brightclass/file-api/pkg/middleware/requestid"
)

// @title BrightClass File API
// @version 1.0.0
// @description File storage and secure serving for the BrightClass teacher chat.
// @BasePath /api/v1
// @schemes http https

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

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := dto.RegisterValidations(v); err != nil {
			logr.Sugar().Fatalw("failed to register validations", "error", err)
		}
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, quota cache and shared rate limits disabled", "error", err)
		redisClient = nil
	}

	backends, err := storage.Resolve(cfg.Storage, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to initialise storage", "error", err)
	}
	ensureBuckets(backends, logr)

	signer, err := token.NewSigner(cfg.Security.TokenSecret, token.Mode(cfg.Security.TokenMode))
	if err != nil {
		logr.Sugar().Fatalw("failed to build token signer", "error", err)
	}

	fileRepo := repository.NewFileRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metrics := service.NewMetricsService()
	limiter := ratelimit.NewLimiter(redisClient, ratelimit.Config{
		Window:     cfg.RateLimit.Window,
		MaxUploads: cfg.RateLimit.MaxUploads,
	}, logr)

	quota := service.NewQuotaService(fileRepo, cacheRepo, logr, cfg.Security.QuotaBytes)
	analytics := service.NewAnalyticsService(analyticsRepo, cfg.Analytics, metrics, logr)
	thumbnails := service.NewThumbnailService(fileRepo, backends, cfg.Storage, cfg.Thumbnails, metrics, logr)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	analytics.Start(workerCtx)
	thumbnails.Start(workerCtx)

	uploadValidator := security.NewValidator(security.ValidatorConfig{
		MaxFileSize:        cfg.Security.MaxFileSize,
		LargeFileThreshold: cfg.Security.LargeFileThreshold,
		AllowedExtensions:  cfg.Security.AllowedExtensions,
		BlockedExtensions:  cfg.Security.BlockedExtensions,
	})

	uploadSvc := service.NewUploadService(fileRepo, quota, uploadValidator, security.NewKeyGenerator(),
		limiter, backends, thumbnails, analytics, metrics, cfg.Storage, logr)
	serveSvc := service.NewServeService(fileRepo, sessionRepo, signer, backends, metrics, cfg, logr)
	fileHandler := handler.NewFileHandler(uploadSvc, serveSvc, analytics, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/uploads", fileHandler.Upload)
		api.GET("/uploads", fileHandler.List)
		api.GET("/uploads/:id", fileHandler.Get)
		api.GET("/uploads/:id/url", fileHandler.Link)
		api.DELETE("/uploads/:id", fileHandler.Delete)
		api.GET("/quota", fileHandler.Quota)
		api.GET("/files/*filepath", fileHandler.Serve)
		api.HEAD("/files/*filepath", fileHandler.Serve)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env,
			"backend", backends.Primary.Name())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}

	stopWorkers()
	analytics.Stop()
	thumbnails.Stop()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logr.Sugar().Infow("shutdown complete")
}

// ensureBuckets creates the configured bucket when an object store is in
// play. Failure is non-fatal; serves fall back to the other backend.
func ensureBuckets(backends storage.Backends, logr *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, adapter := range []storage.Adapter{backends.Primary, backends.Secondary} {
		s3, ok := adapter.(*storage.S3)
		if !ok {
			continue
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logr.Sugar().Warnw("failed to ensure bucket", "error", err)
		}
	}
}
