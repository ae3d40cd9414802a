// Package server assembles the HTTP surface: routes, middleware, health and
// metrics endpoints, and lifecycle management.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	echoapi "github.com/mealtrace/mealtrace/api/echo"
	"github.com/mealtrace/mealtrace/config"
)

// HTTPServer is the Echo-based HTTP front of the auth backend.
type HTTPServer struct {
	echo *echo.Echo
	cfg  *config.ServerConfig
}

// NewHTTPServer builds the server and mounts all routes.
func NewHTTPServer(cfg *config.ServerConfig, authAPI *echoapi.AuthAPI, registry *prometheus.Registry) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(otelecho.Middleware(cfg.OtelServiceName))
	e.Use(requestLogger())

	authAPI.RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 120 * time.Second

	return &HTTPServer{echo: e, cfg: cfg}
}

// Start blocks serving requests until Shutdown is called or the listener
// fails.
func (s *HTTPServer) Start() error {
	addr := ":" + s.cfg.HTTPPort
	log.Info().Str("addr", addr).Msg("HTTP server listening")

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requestLogger() echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			var evt = log.Info()
			if v.Status >= http.StatusInternalServerError {
				evt = log.Error()
			} else if v.Status >= http.StatusBadRequest {
				evt = log.Warn()
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remoteIP", v.RemoteIP).
				Str("requestID", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
