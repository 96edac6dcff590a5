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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-presence-api/api/swagger"
	"github.com/noah-isme/sma-presence-api/internal/geofence"
	"github.com/noah-isme/sma-presence-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-presence-api/internal/middleware"
	"github.com/noah-isme/sma-presence-api/internal/models"
	"github.com/noah-isme/sma-presence-api/internal/repository"
	"github.com/noah-isme/sma-presence-api/internal/service"
	"github.com/noah-isme/sma-presence-api/pkg/cache"
	"github.com/noah-isme/sma-presence-api/pkg/config"
	"github.com/noah-isme/sma-presence-api/pkg/database"
	"github.com/noah-isme/sma-presence-api/pkg/export"
	"github.com/noah-isme/sma-presence-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-presence-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-presence-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-presence-api/pkg/storage"
	"github.com/noah-isme/sma-presence-api/pkg/telemetry"
)

// @title SMA Presence API
// @version 1.0.0
// @description Rotating token presence verification for scheduled attendance sessions
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(database.URL(cfg.Database), "up"); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Presence.KeyStoreBackend == config.KeyStoreRedis || cfg.Presence.ProfileCacheOn {
		redisClient, err = cache.NewRedis(cfg.Redis)
		switch {
		case err != nil && cfg.Presence.KeyStoreBackend == config.KeyStoreRedis:
			logr.Fatal("redis key store unavailable", zap.Error(err))
		case err != nil:
			logr.Warn("redis unavailable, location profile cache disabled", zap.Error(err))
			redisClient = nil
		default:
			defer redisClient.Close()
		}
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	sessionRepo := repository.NewSessionRepository(db)
	locationRepo := repository.NewLocationProfileRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	cacheSvc := service.NewCacheService(nil, metricsSvc, cfg.Presence.ProfileCacheTTL, logr, false)
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient), metricsSvc, cfg.Presence.ProfileCacheTTL, logr, cfg.Presence.ProfileCacheOn)
	}
	locationSvc := service.NewLocationService(locationRepo, cacheSvc)

	var keys service.KeyStore = service.NewMemoryKeyStore(nil)
	if cfg.Presence.KeyStoreBackend == config.KeyStoreRedis && redisClient != nil {
		keys = repository.NewRedisKeyStore(redisClient)
	}

	sinks := []service.TokenSink{sessionRepo}
	var renderer *service.TokenRenderer
	if cfg.Artifacts.Enabled {
		store, err := storage.NewLocalStorage(cfg.Artifacts.StorageDir)
		if err != nil {
			logr.Fatal("failed to prepare artifact storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Artifacts.SignedURLSecret, cfg.Artifacts.SignedURLTTL)
		renderer = service.NewTokenRenderer(store, signer, service.RendererConfig{
			ImageSize:       cfg.Artifacts.ImageSize,
			Workers:         cfg.Artifacts.RenderWorkers,
			Retries:         cfg.Artifacts.RenderRetries,
			CleanupInterval: cfg.Artifacts.CleanupInterval,
			Retention:       cfg.Presence.KeyRetention,
			Logger:          logr,
			Metrics:         metricsSvc,
		})
		renderer.Start(ctx)
		sinks = append(sinks, renderer)
	}

	rotator := service.NewTokenRotator(service.NewSessionRegistry(), keys, service.RotatorConfig{
		Interval:     cfg.Presence.RotationInterval,
		Grace:        cfg.Presence.GraceWindow,
		KeyRetention: cfg.Presence.KeyRetention,
		Logger:       logr,
		Metrics:      metricsSvc,
	}, sinks...)

	sessionSvc := service.NewSessionService(sessionRepo, locationSvc, rotator, service.SessionServiceConfig{
		PreBuffer:   cfg.Presence.WindowPreBuffer,
		PostBuffer:  cfg.Presence.WindowPostBuffer,
		TokenSecret: cfg.Presence.TokenSecret,
		MaxRuntime:  cfg.Presence.MaxSessionRuntime,
	}, validate, logr)

	var fences service.FenceState
	var subscriber *geofence.Subscriber
	if cfg.Geofence.Enabled {
		tracker := geofence.NewTracker(cfg.Geofence.StateTTL, nil)
		subscriber = geofence.NewSubscriber(geofence.SubscriberConfig{
			Broker:   cfg.Geofence.Broker,
			Topic:    cfg.Geofence.Topic,
			ClientID: cfg.Geofence.ClientID,
			QoS:      byte(cfg.Geofence.QoS),
		}, tracker, metricsSvc, logr)
		if err := subscriber.Start(); err != nil {
			logr.Warn("geofence feed unavailable", zap.Error(err))
			subscriber = nil
		} else {
			fences = tracker
		}
	}

	guard := service.NewDuplicateGuard(submissionRepo, logr)
	verificationSvc := service.NewVerificationService(sessionSvc, rotator, locationSvc, guard, fences, metricsSvc,
		service.VerificationConfig{PassThreshold: cfg.Presence.PassThreshold}, validate, logr)
	reportSvc := service.NewReportService(sessionSvc, submissionRepo, export.NewCSVExporter(), export.NewPDFExporter())
	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	if cfg.Presence.ResumeOnStartup {
		resumed, err := sessionSvc.Resume(ctx)
		if err != nil {
			logr.Error("failed to resume active sessions", zap.Error(err))
		} else {
			logr.Info("active sessions resumed", zap.Int("count", resumed))
		}
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, redisClient) }
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	sessionHandler := handler.NewSessionHandler(sessionSvc, reportSvc, nil, cfg.APIPrefix+"/artifacts")
	if renderer != nil {
		api.GET("/artifacts/:token", handler.NewArtifactHandler(renderer, logr).Download)
		sessionHandler = handler.NewSessionHandler(sessionSvc, reportSvc, renderer, cfg.APIPrefix+"/artifacts")
	}
	verificationHandler := handler.NewVerificationHandler(verificationSvc)
	locationHandler := handler.NewLocationHandler(locationSvc)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))
	secured.POST("/verifications", verificationHandler.Submit)
	secured.GET("/sessions/:id", sessionHandler.Get)

	managers := secured.Group("")
	managers.Use(internalmiddleware.RequireSessionManager())
	managers.POST("/sessions", internalmiddleware.Audit(logr, "open", "session"), sessionHandler.Open)
	managers.GET("/sessions/:id/token", sessionHandler.Token)
	managers.POST("/sessions/:id/cancel", internalmiddleware.Audit(logr, "cancel", "session"), sessionHandler.Cancel)
	managers.POST("/sessions/:id/complete", internalmiddleware.Audit(logr, "complete", "session"), sessionHandler.Complete)
	managers.GET("/sessions/:id/attendance", sessionHandler.Attendance)
	managers.GET("/locations/:id", locationHandler.Get)

	admins := secured.Group("")
	admins.Use(internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admins.DELETE("/locations/:id/cache", internalmiddleware.Audit(logr, "invalidate_cache", "location"), locationHandler.Invalidate)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown", zap.Error(err))
	}
	if err := rotator.Shutdown(shutdownCtx); err != nil {
		logr.Error("rotator shutdown", zap.Error(err))
	}
	if renderer != nil {
		renderer.Stop()
	}
	if subscriber != nil {
		subscriber.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logr.Warn("tracing shutdown", zap.Error(err))
	}
}
