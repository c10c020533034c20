package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/flowdeskhq/flowdesk/internal/notify"
)

const eventStreamBuffer = 64

// EventsHandler streams ticket and message events for one tenant over
// server-sent events, so attendance frontends can live-update without
// polling.
type EventsHandler struct {
	hub    *notify.Hub
	logger *slog.Logger
}

// NewEventsHandler creates the SSE event-stream handler.
func NewEventsHandler(log *slog.Logger, hub *notify.Hub) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: log.With(slog.String("handler", "events")),
	}
}

// Register mounts GET /tenants/:tenant_id/events.
func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/tenants/:tenant_id/events", h.Stream)
}

// Stream subscribes the caller to the tenant's event feed until the
// request context ends.
func (h *EventsHandler) Stream(c echo.Context) error {
	tenantID, err := strconv.ParseInt(strings.TrimSpace(c.Param("tenant_id")), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant id must be numeric")
	}
	if h.hub == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "event hub not configured")
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)

	streamID, stream, cancel := h.hub.Subscribe(tenantID, eventStreamBuffer)
	defer cancel()
	h.logger.Debug("event stream opened",
		slog.Int64("tenant_id", tenantID),
		slog.String("stream_id", streamID))

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case event, ok := <-stream:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Topic, string(data)))
			writer.Flush()
			flusher.Flush()
		}
	}
}
