// Package middleware provides Echo middleware for the local status server.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each status request.
// Successful scrapes are logged at debug level so they do not drown the
// tunnel progress output.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "status_server")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelDebug
			if err != nil || res.Status >= http.StatusBadRequest {
				level = slog.LevelWarn
			}
			logger.Log(req.Context(), level, "status request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"err", err,
			)

			return err
		}
	}
}
