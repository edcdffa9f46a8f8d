package api

import (
	"context"
	"log/slog"
	"net/http"

	"vidblog/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates the echo instance with all routes and middleware.
// ctx bounds background work owned by the router, such as rate limiter
// eviction.
func SetupRouter(ctx context.Context, handler *Handler, cfg *config.Config, metrics *Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(RequestLogger())

	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/api/uploads/:id", handler.HandleGetUpload)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	uploadMiddleware := []echo.MiddlewareFunc{
		NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware(),
	}
	if cfg.JWTSecret != "" {
		uploadMiddleware = append(uploadMiddleware, BearerAuth([]byte(cfg.JWTSecret)))
	} else {
		slog.Warn("JWT_SECRET not set, upload endpoint accepts unauthenticated requests")
	}

	upload := e.Group("/upload")
	upload.POST("/addvideo", handler.HandleAddVideo, uploadMiddleware...)

	return e
}
