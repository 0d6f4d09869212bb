package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmux/agentmux/pkg/lifecycle"
	"github.com/agentmux/agentmux/pkg/project"
	"github.com/agentmux/agentmux/pkg/queue"
	"github.com/agentmux/agentmux/pkg/team"
	"github.com/agentmux/agentmux/pkg/term"
	"github.com/agentmux/agentmux/pkg/users"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, term.ErrSessionNotFound),
		errors.Is(err, team.ErrTeamNotFound),
		errors.Is(err, team.ErrMemberNotFound),
		errors.Is(err, queue.ErrMessageNotFound),
		errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, users.ErrTokenNotFound),
		errors.Is(err, project.ErrProjectNotFound),
		errors.Is(err, project.ErrTaskNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, term.ErrSessionExists),
		errors.Is(err, queue.ErrNotCancellable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.Is(err, term.ErrSessionKilled):
		return echo.NewHTTPError(http.StatusGone, err.Error())

	case errors.Is(err, lifecycle.ErrOrchestratorSuspend):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
