// Package cleanup provides state-directory retention: pruning quarantined
// corrupt files and trimming finished notification history.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentmux/agentmux/pkg/slack"
	"github.com/agentmux/agentmux/pkg/store"
)

// Config tunes the cleanup service.
type Config struct {
	// Interval between cleanup passes.
	Interval time.Duration

	// QuarantineRetention is how long .corrupt.* files are kept for
	// inspection before deletion.
	QuarantineRetention time.Duration

	// NotificationRetention is how long delivered/failed chat
	// notifications stay in the history file.
	NotificationRetention time.Duration
}

// DefaultConfig returns the standard retention settings.
func DefaultConfig() Config {
	return Config{
		Interval:              6 * time.Hour,
		QuarantineRetention:   7 * 24 * time.Hour,
		NotificationRetention: 7 * 24 * time.Hour,
	}
}

// SchedulePruner drops persisted schedule entries that no longer
// correspond to armed timers.
type SchedulePruner interface {
	Cleanup() (int, error)
}

// Service periodically enforces retention policies on the state
// directory. All operations are idempotent.
type Service struct {
	store     *store.Store
	cfg       Config
	schedules SchedulePruner

	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

// NewService creates a new cleanup service.
func NewService(st *store.Store, cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		store:  st,
		cfg:    cfg,
		logger: slog.Default().With("component", "cleanup"),
	}
}

// SetSchedulePruner registers an optional schedule-file pruner run on each
// pass. Must be called before Start.
func (s *Service) SetSchedulePruner(p SchedulePruner) {
	s.schedules = p
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"interval", s.cfg.Interval,
		"quarantine_retention", s.cfg.QuarantineRetention)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll()
		}
	}
}

// RunAll executes one cleanup pass.
func (s *Service) RunAll() {
	s.pruneQuarantine()
	s.trimNotificationHistory()
	s.pruneSchedules()
}

// pruneSchedules drops stale persisted schedule entries.
func (s *Service) pruneSchedules() {
	if s.schedules == nil {
		return
	}
	removed, err := s.schedules.Cleanup()
	if err != nil {
		s.logger.Error("Retention: schedule prune failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("Retention: pruned stale schedules", "count", removed)
	}
}

// pruneQuarantine deletes .corrupt.* files past their retention.
func (s *Service) pruneQuarantine() {
	entries, err := os.ReadDir(s.store.Root())
	if err != nil {
		s.logger.Error("Retention: cannot read state dir", "error", err)
		return
	}

	cutoff := time.Now().Add(-s.cfg.QuarantineRetention)
	pruned := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), ".corrupt.") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.store.Root(), entry.Name())); err != nil {
			s.logger.Warn("Retention: cannot remove quarantined file",
				"file", entry.Name(), "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		s.logger.Info("Retention: pruned quarantined files", "count", pruned)
	}
}

// trimNotificationHistory drops delivered and failed notifications past
// their retention, keeping pending ones for the reconciler.
func (s *Service) trimNotificationHistory() {
	cutoff := time.Now().Add(-s.cfg.NotificationRetention)
	trimmed := 0

	_, err := store.ModifyJSON(s.store, slack.HistoryFile, []slack.Notification{},
		func(history *[]slack.Notification) error {
			kept := (*history)[:0]
			for _, n := range *history {
				if n.Status == slack.DeliveryPending || n.CreatedAt.After(cutoff) {
					kept = append(kept, n)
				} else {
					trimmed++
				}
			}
			*history = kept
			return nil
		})
	if err != nil {
		s.logger.Error("Retention: notification trim failed", "error", err)
		return
	}
	if trimmed > 0 {
		s.logger.Info("Retention: trimmed notification history", "count", trimmed)
	}
}
