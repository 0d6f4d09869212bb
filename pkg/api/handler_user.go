package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// createUserHandler handles POST /api/v1/users.
func (s *Server) createUserHandler(c *echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	id, err := s.users.Create(req.Name, req.Email)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, &IDResponse{ID: id})
}

// listUsersHandler handles GET /api/v1/users. Stored tokens stay
// encrypted in the response.
func (s *Server) listUsersHandler(c *echo.Context) error {
	list, err := s.users.List()
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// getUserHandler handles GET /api/v1/users/:id.
func (s *Server) getUserHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	user, err := s.users.Get(id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, user)
}

// deleteUserHandler handles DELETE /api/v1/users/:id.
func (s *Server) deleteUserHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	if err := s.users.Delete(id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// setTokenHandler handles PUT /api/v1/users/:id/tokens/:service. The
// token is encrypted before it touches disk and never returned.
func (s *Server) setTokenHandler(c *echo.Context) error {
	id := c.Param("id")
	service := c.Param("service")
	if id == "" || service == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id and service are required")
	}

	var req SetTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	if err := s.users.SetToken(id, service, req.Token); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
