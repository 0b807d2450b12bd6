package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"httptunnel-go/internal/metrics"
)

// StatusMetrics returns an Echo middleware that records Prometheus metrics
// for each status server request.
func StatusMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.StatusInFlight.Inc()
			defer m.StatusInFlight.Dec()

			start := time.Now()
			err := next(c)

			// An *echo.HTTPError is written later by the central error
			// handler, so the response status is not final yet.
			code := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				code = he.Code
			}

			status := strconv.Itoa(code)
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)

			m.StatusRequests.WithLabelValues(method, status, path).Inc()
			m.StatusDurations.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
