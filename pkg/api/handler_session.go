package api

import (
	"net/http"
	"strconv"
	"syscall"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmux/agentmux/pkg/term"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session name is required")
	}

	sess, err := s.backend.CreateSession(req.Name, term.Options{
		Command: req.Command,
		Args:    req.Args,
		Cwd:     req.Cwd,
		Env:     req.Env,
		Cols:    req.Cols,
		Rows:    req.Rows,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, &IDResponse{ID: sess.Name()})
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.backend.ListSessions())
}

// getSessionHandler handles GET /api/v1/sessions/:name.
func (s *Server) getSessionHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session name is required")
	}

	sess, err := s.backend.GetSession(name)
	if err != nil {
		return mapServiceError(err)
	}

	cols, rows := sess.Size()
	return c.JSON(http.StatusOK, term.Info{
		Name:      sess.Name(),
		PID:       sess.PID(),
		Cwd:       sess.Cwd(),
		Cols:      cols,
		Rows:      rows,
		CreatedAt: sess.CreatedAt(),
	})
}

// captureSessionHandler handles GET /api/v1/sessions/:name/capture.
func (s *Server) captureSessionHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session name is required")
	}

	lines := term.DefaultCaptureLines
	if v := c.QueryParam("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lines: must be a positive integer")
		}
		lines = n
	}

	output, err := s.backend.CaptureOutput(name, lines)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &CaptureResponse{
		Session: name,
		Lines:   lines,
		Output:  output,
	})
}

// sessionInputHandler handles POST /api/v1/sessions/:name/input. Text is
// sent through the command helper (literal-then-Enter); Key sends a named
// control key.
func (s *Server) sessionInputHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session name is required")
	}

	var req SessionInputRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if (req.Text == "") == (req.Key == "") {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of text or key is required")
	}

	var err error
	if req.Text != "" {
		err = s.commander.SendMessage(c.Request().Context(), name, req.Text)
	} else {
		err = s.commander.SendKey(c.Request().Context(), name, req.Key)
	}
	if err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// resizeSessionHandler handles POST /api/v1/sessions/:name/resize.
func (s *Server) resizeSessionHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session name is required")
	}

	var req ResizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Cols == 0 || req.Rows == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "cols and rows must be positive")
	}

	sess, err := s.backend.GetSession(name)
	if err != nil {
		return mapServiceError(err)
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// killSessionHandler handles DELETE /api/v1/sessions/:name.
func (s *Server) killSessionHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session name is required")
	}

	sess, err := s.backend.GetSession(name)
	if err != nil {
		return mapServiceError(err)
	}
	if err := sess.Kill(syscall.SIGTERM); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &CancelResponse{
		ID:      name,
		Message: "Session termination requested",
	})
}
