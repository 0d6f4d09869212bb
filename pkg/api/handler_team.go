package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmux/agentmux/pkg/runtime"
	"github.com/agentmux/agentmux/pkg/team"
)

// listTeamsHandler handles GET /api/v1/teams.
func (s *Server) listTeamsHandler(c *echo.Context) error {
	teams, err := s.registry.Teams()
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, teams)
}

// createAgentHandler handles POST /api/v1/teams/:id/agents.
func (s *Server) createAgentHandler(c *echo.Context) error {
	teamID := c.Param("id")
	if teamID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "team id is required")
	}

	var req CreateAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_name is required")
	}
	if req.Role == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "role is required")
	}

	runtimeType, err := runtime.ParseType(req.RuntimeType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err = s.registry.CreateAgentSession(c.Request().Context(), team.CreateAgentParams{
		TeamID:      teamID,
		MemberID:    req.MemberID,
		Role:        req.Role,
		RuntimeType: runtimeType,
		SessionName: req.SessionName,
		Cwd:         req.Cwd,
		ResumeToken: req.ResumeToken,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, &IDResponse{ID: req.SessionName})
}

// suspendAgentHandler handles POST /api/v1/agents/:session/suspend.
// Suspending an already-suspended agent is a no-op success.
func (s *Server) suspendAgentHandler(c *echo.Context) error {
	session := c.Param("session")
	if session == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session name is required")
	}

	t, m, err := s.registry.FindMemberBySessionName(session)
	if err != nil {
		return mapServiceError(err)
	}
	if m.Role == team.OrchestratorRole {
		return echo.NewHTTPError(http.StatusForbidden, "orchestrator cannot be suspended")
	}

	suspended, err := s.coordinator.SuspendAgent(c.Request().Context(), session, t.ID, m.ID, m.Role)
	if err != nil {
		return mapServiceError(err)
	}

	resp := &SuspendResponse{Session: session, Suspended: suspended}
	if !suspended {
		resp.Message = "Agent was already suspended"
	}
	return c.JSON(http.StatusOK, resp)
}

// rehydrateAgentHandler handles POST /api/v1/agents/:session/rehydrate.
// Concurrent rehydrates of the same session share one resume.
func (s *Server) rehydrateAgentHandler(c *echo.Context) error {
	session := c.Param("session")
	if session == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session name is required")
	}

	resumed, err := s.coordinator.RehydrateAgent(c.Request().Context(), session)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &RehydrateResponse{Session: session, Resumed: resumed})
}
