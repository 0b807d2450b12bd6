package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"httptunnel-go/internal/tunnel"
)

// Version is a string type for dependency injection of the build version.
type Version string

// TunnelInfo is the read-only view of a tunnel channel shown by Status.
type TunnelInfo interface {
	Target() string
	DefaultMethod() string
	Capacity() tunnel.CapacityTable
	TempPath() string
}

// StatusResponse is the body of the tunnel status endpoint.
type StatusResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	Target        string               `json:"target"`
	DefaultMethod string               `json:"default_method"`
	Capacity      tunnel.CapacityTable `json:"capacity"`
	TempPath      string               `json:"temp_path,omitempty"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	tunnel  TunnelInfo
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(t TunnelInfo, v Version) *HealthHandler {
	return &HealthHandler{tunnel: t, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the tunnel settings and per-method capacity.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:        "ok",
		Version:       string(h.version),
		Target:        h.tunnel.Target(),
		DefaultMethod: h.tunnel.DefaultMethod(),
		Capacity:      h.tunnel.Capacity(),
		TempPath:      h.tunnel.TempPath(),
	})
}
