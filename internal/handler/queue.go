package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-rush/internal/middleware"
	"github.com/iliyamo/ticket-rush/internal/model"
	"github.com/iliyamo/ticket-rush/internal/waitingroom"
)

// QueueHandler exposes the waiting-room endpoints.  Entry is idempotent per
// user; status is polled with the queue token until the entry goes ACTIVE.
type QueueHandler struct {
	Gate *waitingroom.Gate
}

func NewQueueHandler(g *waitingroom.Gate) *QueueHandler {
	return &QueueHandler{Gate: g}
}

type queueEntryResp struct {
	Token    string            `json:"token"`
	Status   model.QueueStatus `json:"status"`
	Position int               `json:"position"`
}

// Enter handles POST /api/queue/enter.  A user re-entering with a live
// entry gets the existing token back with a 200; a fresh entry is a 201.
func (h *QueueHandler) Enter(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	entry, created, err := h.Gate.Enter(uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "queue entry failed"})
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, queueEntryResp{
		Token:    entry.Token,
		Status:   entry.Status,
		Position: entry.Position,
	})
}

// Status handles GET /api/queue/status.  The queue token is read from the
// Queue-Token header, falling back to the ?token= query parameter.  An
// unknown or expired token is a 404.
func (h *QueueHandler) Status(c echo.Context) error {
	token := strings.TrimSpace(c.Request().Header.Get("Queue-Token"))
	if token == "" {
		token = strings.TrimSpace(c.QueryParam("token"))
	}
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "queue token required"})
	}

	entry, err := h.Gate.Status(token)
	if err != nil {
		if errors.Is(err, waitingroom.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "queue entry not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "status lookup failed"})
	}
	return c.JSON(http.StatusOK, queueEntryResp{
		Token:    entry.Token,
		Status:   entry.Status,
		Position: entry.Position,
	})
}
