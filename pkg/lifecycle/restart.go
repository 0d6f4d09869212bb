package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmux/agentmux/pkg/team"
)

// Restart rate-limit defaults: at most MaxRestartsPerWindow automatic
// orchestrator restarts inside a rolling RestartWindow.
const (
	DefaultMaxRestartsPerWindow = 3
	DefaultRestartWindow        = 5 * time.Minute
)

// RestartConfig tunes the restart manager.
type RestartConfig struct {
	MaxRestartsPerWindow int
	Window               time.Duration
}

// DefaultRestartConfig returns the standard restart limits.
func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		MaxRestartsPerWindow: DefaultMaxRestartsPerWindow,
		Window:               DefaultRestartWindow,
	}
}

// RestartManager performs rate-limited automatic restarts of the central
// orchestrator session.
type RestartManager struct {
	registry *team.Registry
	backend  SessionKiller
	cfg      RestartConfig

	// onRestarted is invoked after a successful restart, used to emit
	// the orchestrator:restarted event. May be nil.
	onRestarted func(session string)

	mu         sync.Mutex
	inProgress bool
	restarts   []time.Time

	logger *slog.Logger
}

// NewRestartManager creates the orchestrator restart manager.
// onRestarted may be nil.
func NewRestartManager(registry *team.Registry, backend SessionKiller, cfg RestartConfig, onRestarted func(session string)) *RestartManager {
	if cfg.MaxRestartsPerWindow <= 0 {
		cfg.MaxRestartsPerWindow = DefaultMaxRestartsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRestartWindow
	}
	return &RestartManager{
		registry:    registry,
		backend:     backend,
		cfg:         cfg,
		onRestarted: onRestarted,
		logger:      slog.Default().With("component", "restart-manager"),
	}
}

// AttemptRestart restarts the orchestrator session. Returns false without
// side effects when a restart is already in flight or the rolling-window
// budget is exhausted.
func (m *RestartManager) AttemptRestart(ctx context.Context, session string) (bool, error) {
	if !m.tryBegin() {
		return false, nil
	}
	defer m.end()

	log := m.logger.With("session", session)

	t, member, err := m.registry.FindMemberBySessionName(session)
	if err != nil {
		log.Error("Cannot restart: no member bound to session", "error", err)
		return false, err
	}

	if m.backend.SessionExists(session) {
		if err := m.backend.KillSession(session); err != nil {
			log.Warn("Kill before restart failed, continuing", "error", err)
		}
	}

	err = m.registry.CreateAgentSession(ctx, team.CreateAgentParams{
		TeamID:      t.ID,
		MemberID:    member.ID,
		Role:        member.Role,
		RuntimeType: member.RuntimeType,
		SessionName: session,
		ResumeToken: member.ResumeToken,
	})
	if err != nil {
		log.Error("Orchestrator restart failed", "error", err)
		return false, err
	}

	m.recordRestart()
	log.Info("Orchestrator restarted")
	if m.onRestarted != nil {
		m.onRestarted(session)
	}
	return true, nil
}

// RestartsInWindow returns how many restarts happened inside the current
// rolling window.
func (m *RestartManager) RestartsInWindow() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now())
	return len(m.restarts)
}

// tryBegin claims the single restart slot and checks the rolling budget.
func (m *RestartManager) tryBegin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inProgress {
		return false
	}
	m.prune(time.Now())
	if len(m.restarts) >= m.cfg.MaxRestartsPerWindow {
		m.logger.Warn("Restart budget exhausted",
			"window", m.cfg.Window, "max", m.cfg.MaxRestartsPerWindow)
		return false
	}
	m.inProgress = true
	return true
}

func (m *RestartManager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inProgress = false
}

func (m *RestartManager) recordRestart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, time.Now())
}

// prune drops restart timestamps older than the rolling window. Caller
// holds m.mu.
func (m *RestartManager) prune(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	kept := m.restarts[:0]
	for _, ts := range m.restarts {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.restarts = kept
}
