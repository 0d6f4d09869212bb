package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmux/agentmux/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
func (s *Server) healthHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	resp := &HealthResponse{
		Version: version.GitCommit,
	}

	if s.backend != nil {
		resp.Sessions = len(s.backend.ListSessions())
	}

	if s.queue != nil {
		report := s.queue.Status()
		resp.Queue = &report
		checks["queue"] = HealthCheck{Status: healthStatusHealthy}
	} else {
		status = healthStatusDegraded
		checks["queue"] = HealthCheck{Status: healthStatusDegraded, Message: "queue not running"}
	}

	if s.connManager != nil {
		checks["websocket"] = HealthCheck{Status: healthStatusHealthy}
	}

	resp.Status = status
	resp.Checks = checks
	return c.JSON(http.StatusOK, resp)
}

// versionHandler handles GET /api/v1/version. Returns the running version
// and, when the update checker is configured, the latest upstream release.
func (s *Server) versionHandler(c *echo.Context) error {
	if s.checker == nil {
		return c.JSON(http.StatusOK, map[string]string{"current": version.Full()})
	}

	result, err := s.checker.Check(c.Request().Context())
	if err != nil {
		// Upstream unavailable and nothing cached: still report ourselves.
		return c.JSON(http.StatusOK, map[string]string{"current": version.Full()})
	}
	return c.JSON(http.StatusOK, result)
}
