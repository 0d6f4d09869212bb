package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmux/agentmux/pkg/project"
)

// createProjectHandler handles POST /api/v1/projects.
func (s *Server) createProjectHandler(c *echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and path are required")
	}

	id, err := s.projects.AddProject(req.Name, req.Path, req.TeamIDs...)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, &IDResponse{ID: id})
}

// listProjectsHandler handles GET /api/v1/projects.
func (s *Server) listProjectsHandler(c *echo.Context) error {
	projects, err := s.projects.Projects()
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, projects)
}

// removeProjectHandler handles DELETE /api/v1/projects/:id. The
// project's tasks are removed with it.
func (s *Server) removeProjectHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}

	if err := s.projects.RemoveProject(id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// createTaskHandler handles POST /api/v1/projects/:id/tasks.
func (s *Server) createTaskHandler(c *echo.Context) error {
	projectID := c.Param("id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}

	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}

	id, err := s.projects.AddTask(projectID, req.Title)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, &IDResponse{ID: id})
}

// listTasksHandler handles GET /api/v1/tasks?session=.
func (s *Server) listTasksHandler(c *echo.Context) error {
	var (
		tasks []project.Task
		err   error
	)
	if session := c.QueryParam("session"); session != "" {
		tasks, err = s.projects.TasksFor(session)
	} else {
		tasks, err = s.projects.Tasks()
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}

// assignTaskHandler handles POST /api/v1/tasks/:id/assign.
func (s *Server) assignTaskHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}

	var req AssignTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Session == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session is required")
	}

	if err := s.projects.AssignTask(id, req.Session); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// taskStatusHandler handles POST /api/v1/tasks/:id/status.
func (s *Server) taskStatusHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}

	var req TaskStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch req.Status {
	case project.TaskOpen, project.TaskInProgress, project.TaskDone, project.TaskBlocked:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status: must be open, in_progress, done, or blocked")
	}

	if err := s.projects.SetTaskStatus(id, req.Status); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
