// Package api exposes the HTTP and WebSocket surface of the server: thin
// controllers over the session backend, queue, scheduler, team registry,
// and lifecycle coordinator.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmux/agentmux/pkg/command"
	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/lifecycle"
	"github.com/agentmux/agentmux/pkg/project"
	"github.com/agentmux/agentmux/pkg/queue"
	"github.com/agentmux/agentmux/pkg/scheduler"
	"github.com/agentmux/agentmux/pkg/team"
	"github.com/agentmux/agentmux/pkg/term"
	"github.com/agentmux/agentmux/pkg/users"
	"github.com/agentmux/agentmux/pkg/version"
)

// Server wires the HTTP controllers to the core services. Any nil service
// disables its routes' functionality with a 503.
type Server struct {
	backend     *term.Backend
	commander   *command.Commander
	queue       *queue.Queue
	scheduler   *scheduler.Scheduler
	registry    *team.Registry
	coordinator *lifecycle.Coordinator
	users       *users.Service
	projects    *project.Service
	checker     *version.Checker
	connManager *events.ConnectionManager

	echo *echo.Echo
	http *http.Server

	logger *slog.Logger
}

// Deps carries the services the server exposes.
type Deps struct {
	Backend     *term.Backend
	Commander   *command.Commander
	Queue       *queue.Queue
	Scheduler   *scheduler.Scheduler
	Registry    *team.Registry
	Coordinator *lifecycle.Coordinator
	Users       *users.Service
	Projects    *project.Service
	Checker     *version.Checker
	ConnManager *events.ConnectionManager
}

// NewServer creates the API server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		backend:     deps.Backend,
		commander:   deps.Commander,
		queue:       deps.Queue,
		scheduler:   deps.Scheduler,
		registry:    deps.Registry,
		coordinator: deps.Coordinator,
		users:       deps.Users,
		projects:    deps.Projects,
		checker:     deps.Checker,
		connManager: deps.ConnManager,
		logger:      slog.Default().With("component", "api"),
	}

	e := echo.New()
	e.Use(securityHeaders())
	s.registerRoutes(e)
	s.echo = e
	return s
}

// Handler returns the underlying HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")

	v1.GET("/version", s.versionHandler)

	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:name", s.getSessionHandler)
	v1.GET("/sessions/:name/capture", s.captureSessionHandler)
	v1.POST("/sessions/:name/input", s.sessionInputHandler)
	v1.POST("/sessions/:name/resize", s.resizeSessionHandler)
	v1.DELETE("/sessions/:name", s.killSessionHandler)

	v1.POST("/queue/messages", s.enqueueHandler)
	v1.GET("/queue/status", s.queueStatusHandler)
	v1.GET("/queue/history", s.queueHistoryHandler)
	v1.GET("/queue/messages/:id", s.getMessageHandler)
	v1.POST("/queue/messages/:id/cancel", s.cancelMessageHandler)

	v1.POST("/schedules", s.createScheduleHandler)
	v1.GET("/schedules", s.listSchedulesHandler)
	v1.GET("/schedules/stats", s.scheduleStatsHandler)
	v1.DELETE("/schedules/:id", s.cancelScheduleHandler)
	v1.DELETE("/schedules", s.cancelSessionSchedulesHandler)

	v1.GET("/teams", s.listTeamsHandler)
	v1.POST("/teams/:id/agents", s.createAgentHandler)
	v1.POST("/agents/:session/suspend", s.suspendAgentHandler)
	v1.POST("/agents/:session/rehydrate", s.rehydrateAgentHandler)

	v1.POST("/users", s.createUserHandler)
	v1.GET("/users", s.listUsersHandler)
	v1.GET("/users/:id", s.getUserHandler)
	v1.DELETE("/users/:id", s.deleteUserHandler)
	v1.PUT("/users/:id/tokens/:service", s.setTokenHandler)

	v1.POST("/projects", s.createProjectHandler)
	v1.GET("/projects", s.listProjectsHandler)
	v1.DELETE("/projects/:id", s.removeProjectHandler)
	v1.POST("/projects/:id/tasks", s.createTaskHandler)
	v1.GET("/tasks", s.listTasksHandler)
	v1.POST("/tasks/:id/assign", s.assignTaskHandler)
	v1.POST("/tasks/:id/status", s.taskStatusHandler)
}

// Start begins serving on addr. The returned channel yields the terminal
// listen error, if any; a clean Shutdown yields nothing.
func (s *Server) Start(addr string) <-chan error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight
// requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
