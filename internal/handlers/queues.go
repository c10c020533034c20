package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/store"
)

// QueuesHandler exposes the tenant's routing configuration read-only, so
// operators can verify what the engine will present to contacts.
type QueuesHandler struct {
	store  store.QueueStore
	logger *slog.Logger
}

// NewQueuesHandler creates the queue inspection handler.
func NewQueuesHandler(log *slog.Logger, st store.QueueStore) *QueuesHandler {
	return &QueuesHandler{
		store:  st,
		logger: log.With(slog.String("handler", "queues")),
	}
}

// Register mounts the tenant queue routes.
func (h *QueuesHandler) Register(e *echo.Echo) {
	e.GET("/tenants/:tenant_id/queues", h.List)
	e.GET("/queues/:queue_id/options", h.ListOptions)
}

type scheduleEntryResponse struct {
	Weekday   string `json:"weekday"`
	StartHour string `json:"start_hour,omitempty"`
	EndHour   string `json:"end_hour,omitempty"`
}

type queueResponse struct {
	ID                string                  `json:"id"`
	Name              string                  `json:"name"`
	Ordinal           int                     `json:"ordinal"`
	Greeting          string                  `json:"greeting,omitempty"`
	OutOfHoursMessage string                  `json:"out_of_hours_message,omitempty"`
	Schedule          []scheduleEntryResponse `json:"schedule,omitempty"`
}

type queueOptionResponse struct {
	ID           string `json:"id"`
	ParentID     string `json:"parent_id,omitempty"`
	Label        string `json:"label"`
	Title        string `json:"title"`
	Confirmation string `json:"confirmation,omitempty"`
	Ordinal      int    `json:"ordinal"`
}

// List returns the tenant's queues in menu order.
func (h *QueuesHandler) List(c echo.Context) error {
	tenantID, err := strconv.ParseInt(strings.TrimSpace(c.Param("tenant_id")), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant id must be numeric")
	}
	queues, err := h.store.ListQueues(c.Request().Context(), tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]queueResponse, 0, len(queues))
	for _, q := range queues {
		out = append(out, toQueueResponse(q))
	}
	return c.JSON(http.StatusOK, out)
}

// ListOptions returns one level of a queue's option tree; pass parent_id
// to descend.
func (h *QueuesHandler) ListOptions(c echo.Context) error {
	queueID := strings.TrimSpace(c.Param("queue_id"))
	if queueID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "queue id is required")
	}
	parentID := strings.TrimSpace(c.QueryParam("parent_id"))
	options, err := h.store.ListOptions(c.Request().Context(), queueID, parentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]queueOptionResponse, 0, len(options))
	for _, o := range options {
		out = append(out, queueOptionResponse{
			ID:           o.ID,
			ParentID:     o.ParentID,
			Label:        o.Label,
			Title:        o.Title,
			Confirmation: o.Confirmation,
			Ordinal:      o.Ordinal,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func toQueueResponse(q models.Queue) queueResponse {
	entries := make([]scheduleEntryResponse, 0, len(q.Schedule))
	for _, entry := range q.Schedule {
		entries = append(entries, scheduleEntryResponse(entry))
	}
	return queueResponse{
		ID:                q.ID,
		Name:              q.Name,
		Ordinal:           q.Ordinal,
		Greeting:          q.Greeting,
		OutOfHoursMessage: q.OutOfHoursMessage,
		Schedule:          entries,
	}
}
