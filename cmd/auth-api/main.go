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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/school-auth-api/api/swagger"
	"github.com/noah-isme/school-auth-api/internal/handler"
	"github.com/noah-isme/school-auth-api/internal/middleware"
	"github.com/noah-isme/school-auth-api/internal/models"
	"github.com/noah-isme/school-auth-api/internal/repository"
	"github.com/noah-isme/school-auth-api/internal/service"
	"github.com/noah-isme/school-auth-api/internal/token"
	"github.com/noah-isme/school-auth-api/pkg/cache"
	"github.com/noah-isme/school-auth-api/pkg/config"
	"github.com/noah-isme/school-auth-api/pkg/database"
	"github.com/noah-isme/school-auth-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/school-auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/school-auth-api/pkg/middleware/requestid"
	"github.com/noah-isme/school-auth-api/pkg/password"
)

// @title School Auth API
// @version 1.0.0
// @description Authentication and user directory service for the school platform
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx, db); err != nil {
		cancelMigrate()
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}
	cancelMigrate()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, user cache disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	codec, err := token.NewCodec(token.Config{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	if err != nil {
		logr.Sugar().Fatalw("failed to build token codec", "error", err)
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		logr.Sugar().Fatalw("failed to build password hasher", "error", err)
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metrics := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, tokenRepo, hasher, codec, validate, logr, metrics, service.AuthConfig{
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
	})
	userSvc := service.NewUserService(userRepo, cacheRepo, tokenRepo, hasher, validate, logr, metrics)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	if err := userSvc.EnsureAdmin(seedCtx, cfg.Admin.Login, cfg.Admin.Password); err != nil {
		cancelSeed()
		logr.Sugar().Fatalw("failed to seed admin account", "error", err)
	}
	cancelSeed()

	janitor := service.NewTokenJanitor(tokenRepo, cfg.Tokens.CleanupInterval, logr)
	janitor.Start(context.Background())
	defer janitor.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	authHandler := handler.NewAuthHandler(authSvc, userSvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, db, redisClient)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.POST("/verify", middleware.JWT(authSvc), authHandler.Verify)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	users := api.Group("/users", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	users.GET("", userHandler.List)
	users.GET("/export", userHandler.Export)
	users.GET("/:id", userHandler.Get)
	users.POST("", userHandler.Create)
	users.PATCH("/:id", userHandler.Update)
	users.DELETE("/:id", userHandler.Delete)

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
