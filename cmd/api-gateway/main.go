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

	_ "github.com/noah-isme/sma-adp-registrar/api/swagger"
	"github.com/noah-isme/sma-adp-registrar/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-adp-registrar/internal/middleware"
	"github.com/noah-isme/sma-adp-registrar/internal/repository"
	"github.com/noah-isme/sma-adp-registrar/internal/service"
	"github.com/noah-isme/sma-adp-registrar/pkg/cache"
	"github.com/noah-isme/sma-adp-registrar/pkg/config"
	"github.com/noah-isme/sma-adp-registrar/pkg/database"
	"github.com/noah-isme/sma-adp-registrar/pkg/jobs"
	"github.com/noah-isme/sma-adp-registrar/pkg/keylock"
	"github.com/noah-isme/sma-adp-registrar/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-adp-registrar/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-adp-registrar/pkg/middleware/requestid"
)

// @title SMA ADP Registrar API
// @version 1.0.0
// @description Enrollment, capacity and grading engine
// @BasePath /api/v1
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	var cacheRepo service.CacheRepository
	if cfg.Notifications.CacheEnabled {
		var client *redis.Client
		client, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, notification cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			redisRepo := repository.NewCacheRepository(client, logr)
			cacheRepo = redisRepo
			readiness["redis"] = redisRepo.Ping
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Notifications.CacheTTL, logr, cfg.Notifications.CacheEnabled)

	gradePolicy, err := service.PolicyWithWeights(cfg.Engine.GradeWeights)
	if err != nil {
		logr.Fatal("invalid grade policy", zap.Error(err))
	}
	calculator := service.NewGradeCalculator(gradePolicy)
	validate := validator.New()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	policies := service.NewPolicyService(repository.NewPolicyRepository(db), auditRepo, validate, logr, cfg.Engine)
	gate := service.NewMaintenanceGate(policies, auditRepo, logr)
	roster := service.NewSectionRoster(repository.NewSectionRepository(db), logr)
	ledger := service.NewGradeLedger(repository.NewGradeRepository(db), enrollmentRepo, roster, gate, logr)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), cacheSvc, metrics, validate, logr, cfg.Notifications.CacheTTL)

	mux := jobs.NewMux()
	mux.Handle(service.JobGradesFinalized, notifications.HandleGradesFinalized)
	queue := jobs.NewQueue("notifications", mux.Dispatch, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.Retries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})
	rootCtx, stopQueue := context.WithCancel(context.Background())
	queue.Start(rootCtx)

	sectionLocks := keylock.New()
	enrollments := service.NewEnrollmentService(service.EnrollmentServiceParams{
		Enrollments:  enrollmentRepo,
		Roster:       roster,
		Ledger:       ledger,
		Gate:         gate,
		Policies:     policies,
		Calculator:   calculator,
		Notifier:     notifications,
		Audits:       auditRepo,
		Metrics:      metrics,
		SectionLocks: sectionLocks,
		Location:     cfg.Engine.Location,
		Logger:       logr,
	})
	finalizer := service.NewFinalizationWorkflow(service.FinalizationWorkflowParams{
		Enrollments:  enrollmentRepo,
		Roster:       roster,
		Ledger:       ledger,
		Calculator:   calculator,
		Gate:         gate,
		Queue:        queue,
		Audits:       auditRepo,
		Metrics:      metrics,
		SectionLocks: sectionLocks,
		Logger:       logr,
	})
	tokens := service.NewTokenService(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.Expiration,
		Issuer: cfg.JWT.Issuer,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Enrollments:   handler.NewEnrollmentHandler(enrollments),
		Grades:        handler.NewGradeHandler(ledger),
		Sections:      handler.NewSectionHandler(enrollments, finalizer),
		Admin:         handler.NewAdminHandler(gate, policies),
		Notifications: handler.NewNotificationHandler(notifications),
	}.Register(r.Group(cfg.APIPrefix), internalmiddleware.JWT(tokens))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	stopQueue()
	queue.Stop()
}
