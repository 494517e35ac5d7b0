package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quaero-ai/quaero/internal/queue"
)

// OpsHandler exposes operational endpoints (queue backlog, consumer state).
type OpsHandler struct {
	Broker *queue.Broker
	Group  string
}

// Register mounts ops endpoints under the provided group.
func (h *OpsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("/queue", h.queueStatus)
}

func (h *OpsHandler) queueStatus(c echo.Context) error {
	status, err := h.Broker.GroupStatus(c.Request().Context(), h.Group)
	if err != nil {
		if errors.Is(err, queue.ErrBrokerUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stream":              h.Broker.Stream(),
		"group":               h.Group,
		"depth":               status.Depth,
		"pending":             status.Pending,
		"lag":                 status.Lag,
		"consumers":           status.Consumers,
		"oldest_idle_seconds": status.OldestIdle.Seconds(),
	})
}
