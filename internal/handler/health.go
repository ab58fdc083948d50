package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"inference-gateway/internal/config"
	"inference-gateway/internal/probe"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	prober  *probe.Prober
}

// NewHealthHandler creates a HealthHandler. prober may be nil.
func NewHealthHandler(cfg *config.Config, v Version, prober *probe.Prober) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, prober: prober}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health reports the gateway as healthy along with the services it talks to.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   string(h.version),
		"services": map[string]string{
			"llm_service": h.cfg.Upstream.BaseURL,
		},
	})
}

// Status returns gateway status information, including the latest upstream probe.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := map[string]any{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
	}
	if h.prober != nil {
		if snap, ok := h.prober.Last(); ok {
			resp["upstream"] = snap
		}
	}
	return c.JSON(http.StatusOK, resp)
}
