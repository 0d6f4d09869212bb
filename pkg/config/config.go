// Package config resolves the server configuration from the environment.
// Every knob has a built-in default; AGENTMUX_* variables override them.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the umbrella configuration object built by Load and passed to
// the composition root.
type Config struct {
	// HTTPPort is the API listen port.
	HTTPPort string

	// StateDir is the private state root holding the JSON files
	// (teams.json, queue-state.json, ...).
	StateDir string

	// Secret derives the key for user token encryption. Empty falls back
	// to the public development key.
	Secret string

	Slack      SlackConfig
	Queue      QueueConfig
	Scheduler  SchedulerConfig
	Reconciler ReconcilerConfig
	Restart    RestartConfig
	Shutdown   ShutdownConfig
}

// SlackConfig holds resolved Slack bridge configuration. An empty Token
// or Channel disables the bridge.
type SlackConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// QueueConfig tunes the central message queue.
type QueueConfig struct {
	MaxRetries   int
	RetryDelay   time.Duration
	HistoryLimit int
	ReplyTimeout time.Duration
}

// SchedulerConfig tunes the message scheduler.
type SchedulerConfig struct {
	InitialCheck   time.Duration
	ProgressCheck  time.Duration
	CommitReminder time.Duration
	MinInterval    time.Duration
	BaseInterval   time.Duration
	MaxInterval    time.Duration
}

// ReconcilerConfig tunes external-chat reconciliation.
type ReconcilerConfig struct {
	StartupDelay  time.Duration
	Interval      time.Duration
	MaxAttempts   int
	MaxMessageAge time.Duration
}

// RestartConfig bounds automatic orchestrator restarts.
type RestartConfig struct {
	MaxPerWindow int
	Window       time.Duration
}

// ShutdownConfig holds graceful-shutdown timeout budgets.
type ShutdownConfig struct {
	QueueTimeout time.Duration
	HTTPTimeout  time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPPort: "8787",
		StateDir: defaultStateDir(),
		Queue: QueueConfig{
			MaxRetries:   3,
			RetryDelay:   5 * time.Second,
			HistoryLimit: 100,
			ReplyTimeout: 2 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			InitialCheck:   5 * time.Minute,
			ProgressCheck:  30 * time.Minute,
			CommitReminder: 25 * time.Minute,
			MinInterval:    5 * time.Minute,
			BaseInterval:   15 * time.Minute,
			MaxInterval:    60 * time.Minute,
		},
		Reconciler: ReconcilerConfig{
			StartupDelay:  30 * time.Second,
			Interval:      5 * time.Minute,
			MaxAttempts:   3,
			MaxMessageAge: 24 * time.Hour,
		},
		Restart: RestartConfig{
			MaxPerWindow: 3,
			Window:       5 * time.Minute,
		},
		Shutdown: ShutdownConfig{
			QueueTimeout: 30 * time.Second,
			HTTPTimeout:  5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults and AGENTMUX_* environment
// overrides.
func Load() (Config, error) {
	cfg := Default()

	cfg.HTTPPort = getEnv("AGENTMUX_HTTP_PORT", cfg.HTTPPort)
	cfg.StateDir = getEnv("AGENTMUX_HOME", cfg.StateDir)
	cfg.Secret = os.Getenv("AGENTMUX_SECRET")

	cfg.Slack.Token = os.Getenv("SLACK_BOT_TOKEN")
	cfg.Slack.Channel = os.Getenv("SLACK_CHANNEL_ID")
	cfg.Slack.DashboardURL = os.Getenv("AGENTMUX_DASHBOARD_URL")

	var err error
	set := func(name string, d *time.Duration) {
		if err == nil {
			err = getDuration(name, d)
		}
	}
	setInt := func(name string, n *int) {
		if err == nil {
			err = getInt(name, n)
		}
	}

	setInt("AGENTMUX_QUEUE_MAX_RETRIES", &cfg.Queue.MaxRetries)
	set("AGENTMUX_QUEUE_RETRY_DELAY", &cfg.Queue.RetryDelay)
	setInt("AGENTMUX_QUEUE_HISTORY_LIMIT", &cfg.Queue.HistoryLimit)
	set("AGENTMUX_QUEUE_REPLY_TIMEOUT", &cfg.Queue.ReplyTimeout)

	set("AGENTMUX_SCHEDULER_INITIAL_CHECK", &cfg.Scheduler.InitialCheck)
	set("AGENTMUX_SCHEDULER_PROGRESS_CHECK", &cfg.Scheduler.ProgressCheck)
	set("AGENTMUX_SCHEDULER_COMMIT_REMINDER", &cfg.Scheduler.CommitReminder)
	set("AGENTMUX_SCHEDULER_MIN_INTERVAL", &cfg.Scheduler.MinInterval)
	set("AGENTMUX_SCHEDULER_BASE_INTERVAL", &cfg.Scheduler.BaseInterval)
	set("AGENTMUX_SCHEDULER_MAX_INTERVAL", &cfg.Scheduler.MaxInterval)

	set("AGENTMUX_RECONCILE_STARTUP_DELAY", &cfg.Reconciler.StartupDelay)
	set("AGENTMUX_RECONCILE_INTERVAL", &cfg.Reconciler.Interval)
	setInt("AGENTMUX_RECONCILE_MAX_ATTEMPTS", &cfg.Reconciler.MaxAttempts)
	set("AGENTMUX_RECONCILE_MAX_MESSAGE_AGE", &cfg.Reconciler.MaxMessageAge)

	setInt("AGENTMUX_RESTART_MAX_PER_WINDOW", &cfg.Restart.MaxPerWindow)
	set("AGENTMUX_RESTART_WINDOW", &cfg.Restart.Window)

	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("Cannot resolve home directory, using relative state dir", "error", err)
		return ".agentmux"
	}
	return filepath.Join(home, ".agentmux")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func getInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
