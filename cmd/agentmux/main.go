// agentmux server: supervises AI coding agents in PTY sessions, exposes
// the HTTP/WebSocket API, and runs the message queue and scheduler.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentmux/agentmux/pkg/api"
	"github.com/agentmux/agentmux/pkg/cleanup"
	"github.com/agentmux/agentmux/pkg/command"
	"github.com/agentmux/agentmux/pkg/config"
	"github.com/agentmux/agentmux/pkg/delivery"
	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/lifecycle"
	"github.com/agentmux/agentmux/pkg/project"
	"github.com/agentmux/agentmux/pkg/queue"
	"github.com/agentmux/agentmux/pkg/runtime"
	"github.com/agentmux/agentmux/pkg/scheduler"
	"github.com/agentmux/agentmux/pkg/slack"
	"github.com/agentmux/agentmux/pkg/store"
	"github.com/agentmux/agentmux/pkg/team"
	"github.com/agentmux/agentmux/pkg/term"
	"github.com/agentmux/agentmux/pkg/users"
	"github.com/agentmux/agentmux/pkg/version"
)

// queueDispatcher feeds fired scheduler jobs into the central queue as
// system events.
type queueDispatcher struct {
	queue *queue.Queue
}

func (d *queueDispatcher) Dispatch(_ context.Context, job scheduler.Job) error {
	_, err := d.queue.Enqueue(queue.EnqueueInput{
		Content:       job.Message,
		TargetSession: job.TargetSession,
		Source:        queue.SourceSystemEvent,
	})
	return err
}

func main() {
	envPath := flag.String("env", ".env", "Path to environment file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting agentmux",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"state_dir", cfg.StateDir)

	ctx := context.Background()

	// 1. State directory and store
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		slog.Error("Failed to create state directory", "dir", cfg.StateDir, "error", err)
		os.Exit(1)
	}
	st := store.New(cfg.StateDir)

	// 2. Terminal backend, command helper, runtime adapters
	backend := term.NewBackend()
	commander := command.New(backend)
	runtimes := runtime.NewRegistry(backend, commander)

	// 3. Events gateway and agent registry. The broadcaster is installed
	// after construction to break the registry↔gateway ordering cycle.
	connManager := events.NewConnectionManager(10 * time.Second)
	gateway := events.NewGateway(connManager)
	registry := team.NewRegistry(st, runtimes, nil)
	registry.SetBroadcaster(gateway)
	slog.Info("Agent registry initialized")

	// 4. Slack bridge (nil when unconfigured, disabling delivery)
	slackService := slack.NewService(slack.ServiceConfig{
		Token:        cfg.Slack.Token,
		Channel:      cfg.Slack.Channel,
		DashboardURL: cfg.Slack.DashboardURL,
	}, st)
	if slackService == nil {
		slog.Info("Slack bridge disabled: no token or channel configured")
	}

	// 5. Message queue with reliable delivery and response routing
	deliverer := delivery.New(backend, commander, delivery.DefaultConfig())
	collector := queue.NewTerminalCollector(backend)
	router := queue.NewRouter(gateway, slackService)

	q, err := queue.New(st, deliverer, collector, router, gateway, queue.Config{
		MaxRetries:   cfg.Queue.MaxRetries,
		RetryDelay:   cfg.Queue.RetryDelay,
		HistoryLimit: cfg.Queue.HistoryLimit,
		ReplyTimeout: cfg.Queue.ReplyTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize queue", "error", err)
		os.Exit(1)
	}
	q.Start(ctx)
	slog.Info("Message queue started")

	// 6. Scheduler feeding the queue
	sched, err := scheduler.New(st, &queueDispatcher{queue: q},
		scheduler.NewActivityTracker(scheduler.AdaptiveConfig{
			MinInterval: cfg.Scheduler.MinInterval,
			Base:        cfg.Scheduler.BaseInterval,
			MaxInterval: cfg.Scheduler.MaxInterval,
			Factor:      scheduler.DefaultAdjustmentFactor,
		}),
		scheduler.Config{
			InitialCheck:    cfg.Scheduler.InitialCheck,
			ProgressCheck:   cfg.Scheduler.ProgressCheck,
			CommitReminder:  cfg.Scheduler.CommitReminder,
			DispatchTimeout: 30 * time.Second,
		})
	if err != nil {
		slog.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)
	slog.Info("Scheduler started")

	// 7. Lifecycle: suspend/rehydrate and orchestrator restarts
	coordinator := lifecycle.NewCoordinator(registry, backend)
	restartMgr := lifecycle.NewRestartManager(registry, backend, lifecycle.RestartConfig{
		MaxRestartsPerWindow: cfg.Restart.MaxPerWindow,
		Window:               cfg.Restart.Window,
	}, func(session string) {
		// A restarted orchestrator begins with a fresh check-in cadence.
		sched.Activity().Forget(session)
		gateway.PublishOrchestratorRestarted(session)
	})

	// Every new session streams to its terminal channel and feeds the
	// adaptive activity signal. Detach is implicit: listener channels
	// close when the session exits.
	backend.SetCreateHandler(func(sess *term.Session) {
		if _, err := gateway.AttachTerminal(sess); err != nil {
			slog.Warn("Failed to attach terminal stream", "session", sess.Name(), "error", err)
		}
		activityCh, _, err := sess.OnData()
		if err != nil {
			slog.Warn("Failed to watch session activity", "session", sess.Name(), "error", err)
			return
		}
		go sched.Activity().WatchOutput(sess.Name(), activityCh,
			scheduler.DefaultActivitySignalPeriod, scheduler.DefaultIdleThreshold)
	})

	backend.SetExitHandler(func(session string) {
		go handleSessionExit(ctx, session, registry, coordinator, restartMgr, slackService)
	})

	// 8. Background maintenance
	if slackService != nil {
		reconciler := slack.NewReconciler(st, slackService, slack.ReconcilerConfig{
			StartupDelay:  cfg.Reconciler.StartupDelay,
			Interval:      cfg.Reconciler.Interval,
			MaxAttempts:   cfg.Reconciler.MaxAttempts,
			MaxMessageAge: cfg.Reconciler.MaxMessageAge,
		})
		reconciler.Start(ctx)
		defer reconciler.Stop()
	}

	cleanupSvc := cleanup.NewService(st, cleanup.DefaultConfig())
	cleanupSvc.SetSchedulePruner(sched)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// 9. HTTP server
	httpServer := api.NewServer(api.Deps{
		Backend:     backend,
		Commander:   commander,
		Queue:       q,
		Scheduler:   sched,
		Registry:    registry,
		Coordinator: coordinator,
		Users:       users.NewService(st, users.NewTokenCipher(cfg.Secret)),
		Projects:    project.NewService(st),
		Checker:     version.NewChecker(st),
		ConnManager: connManager,
	})
	errCh := httpServer.Start(":" + cfg.HTTPPort)

	slog.Info("agentmux started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: scheduler first so nothing new is enqueued,
	// then the queue within its budget, then the HTTP server.
	sched.Stop()
	slog.Info("Scheduler stopped")

	queueDone := make(chan struct{})
	go func() {
		q.Stop()
		close(queueDone)
	}()
	select {
	case <-queueDone:
		slog.Info("Queue stopped gracefully")
	case <-time.After(cfg.Shutdown.QueueTimeout):
		slog.Warn("Queue shutdown timeout exceeded, in-flight message will be recovered on restart")
	}

	httpCtx, cancel := context.WithTimeout(ctx, cfg.Shutdown.HTTPTimeout)
	defer cancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// handleSessionExit reacts to a PTY process exit: suspensions are
// expected, a dead orchestrator is restarted within the rate limit, and
// any other agent is marked inactive and reported.
func handleSessionExit(ctx context.Context, session string, registry *team.Registry,
	coordinator *lifecycle.Coordinator, restartMgr *lifecycle.RestartManager,
	slackService *slack.Service) {

	if coordinator.IsSuspended(session) {
		return
	}

	_, member, err := registry.FindMemberBySessionName(session)
	if err != nil {
		// Plain terminal session, not a registered agent.
		return
	}
	if member.AgentStatus == team.AgentSuspended {
		return
	}

	if member.Role == team.OrchestratorRole {
		restarted, err := restartMgr.AttemptRestart(ctx, session)
		if restarted {
			return
		}
		slog.Error("Orchestrator down and not restarted", "session", session, "error", err)
		slackService.NotifyAgentDown(ctx, session, "orchestrator session exited; automatic restart unavailable")
		return
	}

	if err := registry.UpdateAgentStatus(session, team.AgentInactive); err != nil {
		slog.Error("Failed to mark exited agent inactive", "session", session, "error", err)
	}
	slackService.NotifyAgentDown(ctx, session, "agent session exited unexpectedly")
}
