package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"starterkit/docs"
	"starterkit/internal/auth"
	"starterkit/internal/cache"
	"starterkit/internal/config"
	"starterkit/internal/db"
	"starterkit/internal/guard"
	"starterkit/internal/handler"
	"starterkit/internal/logging"
	"starterkit/internal/repository"
	"starterkit/internal/router"
	"starterkit/internal/service"
)

// @title Starterkit API
// @version 1.0
// @description Account registration, login and role-gated user management with JWT bearer authentication.
// @host localhost:5000
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.LogLevel)

	if cfg.JWTSecret == "change-me" {
		log.Warn("JWT_SECRET is the built-in default; set it before exposing the server")
	}

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Error("database init", "err", err)
		os.Exit(1)
	}

	if cfg.ResetDB {
		log.Warn("RESET_DB=true detected, dropping the users table")
	}
	if err := db.Migrate(gormDB, cfg.ResetDB); err != nil {
		log.Error("auto-migrate", "err", err)
		os.Exit(1)
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, log)
	defer cacheClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := cacheClient.Ping(pingCtx); err != nil {
		log.Warn("redis unavailable, identity lookups go straight to mysql", "addr", cfg.RedisAddr, "err", err)
	}
	cancel()

	userRepo := repository.NewUserRepository(gormDB)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	authService := service.NewAuthService(userRepo, tokens, log)
	userService := service.NewUserService(userRepo, cacheClient, log)

	accessGuard := guard.New(tokens, userService, log)

	e := echo.New()
	e.HideBanner = true
	router.Register(
		e,
		log,
		accessGuard,
		handler.NewAuthHandler(authService),
		handler.NewUserHandler(userService),
	)

	docs.SwaggerInfo.Host = swaggerHost(cfg.SwaggerHost)
	log.Info("swagger documentation available", "url", swaggerURL(cfg.SwaggerHost))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + cfg.ServerPort
		log.Info("server starting", "addr", addr, "token_ttl", cfg.TokenTTL.String())
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server start", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "err", err)
	}
}

// swaggerHost strips the scheme; SWAGGER_HOST may be given with or without it.
func swaggerHost(h string) string {
	if h == "" {
		return "localhost:5000"
	}
	h = strings.TrimPrefix(h, "http://")
	return strings.TrimPrefix(h, "https://")
}

func swaggerURL(h string) string {
	if strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://") {
		return h + "/swagger/index.html"
	}
	return "http://" + swaggerHost(h) + "/swagger/index.html"
}
