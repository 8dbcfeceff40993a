package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/geo-attendance-api/api/swagger"
	"github.com/noah-isme/geo-attendance-api/internal/handler"
	internalmiddleware "github.com/noah-isme/geo-attendance-api/internal/middleware"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	"github.com/noah-isme/geo-attendance-api/pkg/cache"
	"github.com/noah-isme/geo-attendance-api/pkg/config"
	"github.com/noah-isme/geo-attendance-api/pkg/database"
	"github.com/noah-isme/geo-attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/geo-attendance-api/pkg/middleware/cors"
)

// @title Geo Attendance API
// @version 1.0.0
// @description Geofenced class attendance with live session updates
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	issueToken := flag.Bool("issue-token", false, "print a signed access token and exit")
	subject := flag.String("sub", "", "user id embedded in the issued token")
	role := flag.String("role", string(models.RoleFaculty), "role embedded in the issued token (ADMIN, FACULTY, STUDENT)")
	email := flag.String("email", "", "optional email embedded in the issued token")
	name := flag.String("name", "", "optional display name embedded in the issued token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	authSvc := service.NewAuthService(nil, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	if *issueToken {
		user := models.User{ID: *subject, Role: models.UserRole(strings.ToUpper(*role)), Email: *email, FullName: *name}
		if err := printToken(authSvc, user); err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		return
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	db, err := database.NewPostgres(startCtx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	var limiterStore internalmiddleware.RateLimitStore
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(startCtx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, rate limits use process memory", zap.Error(err))
		} else {
			defer redisClient.Close()
			limiterStore = repository.NewRateLimitRepository(redisClient)
			checks["redis"] = cache.Check(redisClient)
		}
	}

	metricsSvc := service.NewMetricsService()
	broadcaster := service.NewBroadcaster(logr, metricsSvc)
	validate := validator.New()

	sessionRepo := repository.NewSessionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)

	sessionSvc := service.NewSessionService(sessionRepo, courseRepo, attendanceRepo, service.NewCodeAllocator(nil), broadcaster, validate, logr, metricsSvc, service.SessionOptions{
		DefaultRadiusM:  cfg.Sessions.DefaultRadiusM,
		DefaultDuration: cfg.Sessions.DefaultDuration,
		MinDuration:     cfg.Sessions.MinDuration,
		MaxDuration:     cfg.Sessions.MaxDuration,
	})
	attendanceSvc := service.NewAttendanceService(sessionRepo, attendanceRepo, userRepo, broadcaster, validate, logr, metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks, logr)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.RouterDeps{
		Auth:        authSvc,
		Sessions:    handler.NewSessionHandler(sessionSvc, attendanceSvc),
		Attendance:  handler.NewAttendanceHandler(attendanceSvc),
		Live:        handler.NewLiveHandler(sessionSvc, broadcaster, handler.LiveOptions{BufferSize: cfg.Live.BufferSize, Keepalive: cfg.Live.Keepalive}, logr),
		RateLimiter: internalmiddleware.NewRateLimiter(limiterStore, logr, metricsSvc),
		RateLimit:   cfg.RateLimit,
	})

	// No write timeout: live streams stay open for the whole session.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down")
	// Closing the registry ends open streams so Shutdown can drain.
	broadcaster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func printToken(authSvc *service.AuthService, user models.User) error {
	if user.ID == "" {
		return errors.New("-sub is required")
	}
	switch user.Role {
	case models.RoleAdmin, models.RoleFaculty, models.RoleStudent:
	default:
		return fmt.Errorf("unknown role %q", user.Role)
	}
	token, expiresAt, err := authSvc.IssueAccessToken(user)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s\n", token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
