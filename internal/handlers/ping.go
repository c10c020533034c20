package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// PingHandler serves liveness probes.
type PingHandler struct {
	logger *slog.Logger
}

// NewPingHandler creates a ping handler.
func NewPingHandler(log *slog.Logger) *PingHandler {
	return &PingHandler{logger: log.With(slog.String("handler", "ping"))}
}

// Register mounts GET /ping and GET+HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Ping)
	e.HEAD("/health", h.Head)
}

// Ping returns 200 JSON {"status":"ok"}.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Head returns 200 with no body for health checks.
func (h *PingHandler) Head(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
