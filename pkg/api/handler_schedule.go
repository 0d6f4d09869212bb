package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmux/agentmux/pkg/scheduler"
)

// createScheduleHandler handles POST /api/v1/schedules.
func (s *Server) createScheduleHandler(c *echo.Context) error {
	var req CreateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Session == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session is required")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	var (
		id  string
		err error
	)
	switch req.Type {
	case "", "check-in":
		delay := time.Duration(req.DelaySeconds) * time.Second
		if delay <= 0 {
			delay = scheduler.DefaultInitialCheck
		}
		id, err = s.scheduler.ScheduleCheck(req.Session, req.Message, delay)
	case "continuation":
		delay := time.Duration(req.DelaySeconds) * time.Second
		if delay <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "delay_seconds must be positive for continuation jobs")
		}
		id, err = s.scheduler.ScheduleContinuation(req.Session, req.Message, delay)
	case "adaptive":
		id, err = s.scheduler.ScheduleAdaptive(req.Session, req.Message)
	case "recurring":
		if req.IntervalSeconds <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "interval_seconds must be positive for recurring jobs")
		}
		interval := time.Duration(req.IntervalSeconds) * time.Second
		id, err = s.scheduler.ScheduleRecurring(req.Session, req.Message, scheduler.TypeCheckIn, interval, req.MaxOccurrences)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid type: must be check-in, continuation, adaptive, or recurring")
	}
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, &IDResponse{ID: id})
}

// listSchedulesHandler handles GET /api/v1/schedules.
func (s *Server) listSchedulesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.scheduler.Jobs())
}

// scheduleStatsHandler handles GET /api/v1/schedules/stats.
func (s *Server) scheduleStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.scheduler.Stats())
}

// cancelScheduleHandler handles DELETE /api/v1/schedules/:id.
// Cancelling an unknown id is a no-op: the job may have just fired.
func (s *Server) cancelScheduleHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule id is required")
	}

	if err := s.scheduler.Cancel(id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// cancelSessionSchedulesHandler handles DELETE /api/v1/schedules?session=.
func (s *Server) cancelSessionSchedulesHandler(c *echo.Context) error {
	session := c.QueryParam("session")
	if session == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session query parameter is required")
	}

	n, err := s.scheduler.CancelAllFor(session)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"cancelled": n})
}
