package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmux/agentmux/pkg/store"
)

// Reconciler defaults.
const (
	DefaultReconcileStartupDelay = 30 * time.Second
	DefaultReconcileInterval     = 5 * time.Minute
	DefaultMaxDeliveryAttempts   = 3
	DefaultMaxMessageAge         = 24 * time.Hour
)

// ReconcilerConfig tunes the notification reconciler.
type ReconcilerConfig struct {
	StartupDelay  time.Duration
	Interval      time.Duration
	MaxAttempts   int
	MaxMessageAge time.Duration
}

// DefaultReconcilerConfig returns the standard reconciliation settings.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		StartupDelay:  DefaultReconcileStartupDelay,
		Interval:      DefaultReconcileInterval,
		MaxAttempts:   DefaultMaxDeliveryAttempts,
		MaxMessageAge: DefaultMaxMessageAge,
	}
}

// ThreadPoster is the slice of the Slack service the reconciler needs.
type ThreadPoster interface {
	PostThreadReply(ctx context.Context, channel, threadTS, text string) error
	ResolveThread(ctx context.Context, fingerprint string) (string, error)
}

// Reconciler periodically re-delivers pending Slack notifications from the
// persisted history. A run mutex guarantees scans never overlap.
type Reconciler struct {
	store  *store.Store
	poster ThreadPoster
	cfg    ReconcilerConfig

	runMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewReconciler creates the notification reconciler.
func NewReconciler(st *store.Store, poster ThreadPoster, cfg ReconcilerConfig) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxDeliveryAttempts
	}
	if cfg.MaxMessageAge <= 0 {
		cfg.MaxMessageAge = DefaultMaxMessageAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconcileInterval
	}
	return &Reconciler{
		store:  st,
		poster: poster,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		logger: slog.Default().With("component", "slack-reconciler"),
	}
}

// Start launches the periodic scan loop: an initial startup delay, then a
// fixed interval.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts the scan loop. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	select {
	case <-r.stopCh:
		return
	case <-ctx.Done():
		return
	case <-time.After(r.cfg.StartupDelay):
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := r.ReconcileOnce(ctx); err != nil {
			r.logger.Error("Reconcile scan failed", "error", err)
		} else if n > 0 {
			r.logger.Info("Reconcile scan delivered notifications", "count", n)
		}

		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReconcileOnce scans the persisted history once and retries pending
// notifications. Returns the number delivered. A scan already in progress
// makes the call a no-op.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	if !r.runMu.TryLock() {
		return 0, nil
	}
	defer r.runMu.Unlock()

	history, err := store.ReadJSON(r.store, HistoryFile, []Notification{})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	delivered := 0
	changed := false

	for i := range history {
		n := &history[i]
		if n.Status != DeliveryPending {
			continue
		}

		if now.Sub(n.CreatedAt) >= r.cfg.MaxMessageAge {
			n.Status = DeliveryFailed
			n.LastError = fmt.Sprintf("expired after %s without delivery", r.cfg.MaxMessageAge)
			changed = true
			continue
		}
		if n.Attempts >= r.cfg.MaxAttempts {
			n.Status = DeliveryFailed
			n.LastError = fmt.Sprintf("gave up after %d attempts: %s", n.Attempts, n.LastError)
			changed = true
			continue
		}

		if err := r.deliver(ctx, n); err != nil {
			n.Attempts++
			n.LastError = err.Error()
			if n.Attempts >= r.cfg.MaxAttempts {
				n.Status = DeliveryFailed
				n.LastError = fmt.Sprintf("gave up after %d attempts: %s", n.Attempts, err)
			}
			r.logger.Warn("Notification delivery failed",
				"notification_id", n.ID, "attempts", n.Attempts, "error", err)
		} else {
			ts := time.Now()
			n.Attempts++
			n.Status = DeliveryDelivered
			n.DeliveredAt = &ts
			n.LastError = ""
			delivered++
		}
		changed = true
	}

	if changed {
		if err := r.store.AtomicWriteJSON(HistoryFile, history); err != nil {
			return delivered, fmt.Errorf("persisting reconciled history: %w", err)
		}
	}
	return delivered, nil
}

// deliver rebuilds the notification from stored metadata and posts it.
func (r *Reconciler) deliver(ctx context.Context, n *Notification) error {
	threadTS := n.ThreadTS
	if threadTS == "" && n.Fingerprint != "" {
		ts, err := r.poster.ResolveThread(ctx, n.Fingerprint)
		if err != nil {
			return fmt.Errorf("resolving thread: %w", err)
		}
		threadTS = ts
		n.ThreadTS = ts
	}
	return r.poster.PostThreadReply(ctx, n.Channel, threadTS, n.Text)
}
