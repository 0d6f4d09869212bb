package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmux/agentmux/pkg/queue"
)

// enqueueHandler handles POST /api/v1/queue/messages.
func (s *Server) enqueueHandler(c *echo.Context) error {
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	source := queue.Source(req.Source)
	switch source {
	case queue.SourceWebChat, queue.SourceExternalChat, queue.SourceSystemEvent:
	case "":
		source = queue.SourceWebChat
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid source: must be web_chat, external_chat, or system_event")
	}

	id, err := s.queue.Enqueue(queue.EnqueueInput{
		Content:        req.Content,
		ConversationID: req.ConversationID,
		TargetSession:  req.TargetSession,
		Source:         source,
		Meta: queue.SourceMeta{
			Channel:  req.Channel,
			ThreadTS: req.ThreadTS,
			UserID:   req.UserID,
		},
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, &EnqueueResponse{
		MessageID: id,
		Status:    string(queue.StatusPending),
	})
}

// queueStatusHandler handles GET /api/v1/queue/status.
func (s *Server) queueStatusHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.Status())
}

// queueHistoryHandler handles GET /api/v1/queue/history.
func (s *Server) queueHistoryHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.History())
}

// getMessageHandler handles GET /api/v1/queue/messages/:id.
func (s *Server) getMessageHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message id is required")
	}

	msg, err := s.queue.Get(id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, msg)
}

// cancelMessageHandler handles POST /api/v1/queue/messages/:id/cancel.
func (s *Server) cancelMessageHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message id is required")
	}

	if err := s.queue.Cancel(id); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &CancelResponse{
		ID:      id,
		Message: "Message cancelled",
	})
}
