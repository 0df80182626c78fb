package router

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"

	"starterkit/internal/guard"
	"starterkit/internal/handler"
	"starterkit/internal/logging"
	"starterkit/internal/model"
)

// Register wires middleware, the error renderer, and routes.
func Register(
	e *echo.Echo,
	log *slog.Logger,
	accessGuard *guard.Guard,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
) {
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(log))
	e.Use(middleware.Recover())

	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(log)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api")

	// Public routes
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)

	// Secured routes (require a valid bearer token)
	authenticated := accessGuard.Authenticate()
	api.GET("/auth/me", authHandler.Me, authenticated)

	users := api.Group("/users", authenticated)
	users.GET("", userHandler.ListUsers, accessGuard.RequireRole(model.RoleAdmin))
	users.PUT("/profile", userHandler.UpdateProfile)
	users.DELETE("/profile", userHandler.DeleteAccount)
}
