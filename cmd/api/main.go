package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/gympoint/gympoint-api/api/swagger"
	"github.com/gympoint/gympoint-api/internal/handler"
	"github.com/gympoint/gympoint-api/internal/middleware"
	"github.com/gympoint/gympoint-api/internal/repository"
	"github.com/gympoint/gympoint-api/internal/service"
	"github.com/gympoint/gympoint-api/pkg/cache"
	"github.com/gympoint/gympoint-api/pkg/clock"
	"github.com/gympoint/gympoint-api/pkg/config"
	"github.com/gympoint/gympoint-api/pkg/database"
	"github.com/gympoint/gympoint-api/pkg/jobs"
	"github.com/gympoint/gympoint-api/pkg/lock"
	"github.com/gympoint/gympoint-api/pkg/logger"
	corsmiddleware "github.com/gympoint/gympoint-api/pkg/middleware/cors"
	reqidmiddleware "github.com/gympoint/gympoint-api/pkg/middleware/requestid"
)

// @title GymPoint API
// @version 1.0.0
// @description Gym enrollment lifecycle and check-in eligibility API
// @BasePath /
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, running without cache and redis locks", "error", err)
		redisClient = nil
	}

	var locker lock.Locker
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient)
	} else {
		locker = lock.NewMemoryLocker()
	}

	validate := validator.New()
	clk := clock.New()

	studentRepo := repository.NewStudentRepository(db)
	planRepo := repository.NewPlanRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	checkinRepo := repository.NewCheckinRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	notificationSvc := service.NewNotificationService(notificationRepo, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	planSvc := service.NewPlanService(planRepo, cacheRepo, cfg.Plans.CacheTTL, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, planSvc, notificationSvc, locker, cfg.Locks.TTL, clk, validate, logr)
	checkinSvc := service.NewCheckinService(checkinRepo, enrollmentRepo, studentRepo, locker, cfg.Locks.TTL, clk, cfg.Checkins.WeeklyLimit, validate, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	planHandler := handler.NewPlanHandler(planSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	checkinHandler := handler.NewCheckinHandler(checkinSvc, metricsSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

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
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.POST("/sessions", authHandler.Login)

	// Check-in endpoints stay token-free so gate terminals can call them
	// with just the student id. Identity is still enforced against the
	// path param inside the service.
	r.POST("/students/:id/checkins", checkinHandler.Create)
	r.GET("/students/:id/checkins", checkinHandler.List)
	r.GET("/students/:id/checkins/export", checkinHandler.Export)

	authed := r.Group("/", middleware.JWT(authSvc))
	{
		authed.GET("/students", studentHandler.List)
		authed.POST("/students", studentHandler.Create)
		authed.GET("/students/:id", studentHandler.Get)
		authed.PUT("/students/:id", studentHandler.Update)
		authed.DELETE("/students/:id", studentHandler.Delete)
		authed.GET("/students/:id/notifications", notificationHandler.List)

		authed.GET("/plans", planHandler.List)
		authed.POST("/plans", planHandler.Create)
		authed.GET("/plans/:id", planHandler.Get)
		authed.PUT("/plans/:id", planHandler.Update)
		authed.DELETE("/plans/:id", planHandler.Delete)

		authed.GET("/enrollments", enrollmentHandler.List)
		authed.POST("/enrollments", enrollmentHandler.Create)
		authed.GET("/enrollments/:id", enrollmentHandler.Get)
		authed.PUT("/enrollments/:id", enrollmentHandler.Update)
		authed.DELETE("/enrollments/:id", enrollmentHandler.Delete)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
