package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns an Echo middleware that marks status responses as
// non-cacheable and non-embeddable. They name the target and the remote
// temporary file.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "no-referrer")

			return next(c)
		}
	}
}
