package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"httptunnel-go/internal/config"
	"httptunnel-go/internal/metrics"
)

// RegisterRoutes wires the status server routes onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/tunnel/status", health.Status)
	e.GET(cfg.Status.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
