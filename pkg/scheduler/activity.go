package scheduler

import (
	"sync"
	"time"
)

// Adaptive cadence defaults.
const (
	DefaultMinInterval      = 5 * time.Minute
	DefaultBaseInterval     = 15 * time.Minute
	DefaultMaxInterval      = 60 * time.Minute
	DefaultAdjustmentFactor = 1.5
)

// Output watcher defaults: at most one activity signal per signal period,
// one idle signal per threshold elapsed without output.
const (
	DefaultActivitySignalPeriod = 30 * time.Second
	DefaultIdleThreshold        = 2 * time.Minute
)

// AdaptiveConfig bounds the adaptive check-in cadence.
type AdaptiveConfig struct {
	MinInterval time.Duration
	Base        time.Duration
	MaxInterval time.Duration
	Factor      float64
}

// DefaultAdaptiveConfig returns the standard adaptive bounds.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MinInterval: DefaultMinInterval,
		Base:        DefaultBaseInterval,
		MaxInterval: DefaultMaxInterval,
		Factor:      DefaultAdjustmentFactor,
	}
}

// ActivityTracker maintains a per-session adaptive interval. Terminal
// output handlers report activity; an idle ticker reports quiet periods.
// Busy sessions converge toward MinInterval, quiet ones toward
// MaxInterval, moving by the multiplicative factor each signal.
type ActivityTracker struct {
	cfg AdaptiveConfig

	mu        sync.Mutex
	intervals map[string]time.Duration
}

// NewActivityTracker creates a tracker with the given bounds.
func NewActivityTracker(cfg AdaptiveConfig) *ActivityTracker {
	if cfg.MinInterval <= 0 || cfg.MaxInterval <= 0 || cfg.Base <= 0 || cfg.Factor <= 1 {
		cfg = DefaultAdaptiveConfig()
	}
	return &ActivityTracker{
		cfg:       cfg,
		intervals: make(map[string]time.Duration),
	}
}

// RecordActivity shrinks the session's interval toward the minimum.
func (t *ActivityTracker) RecordActivity(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.currentLocked(session)
	next := time.Duration(float64(cur) / t.cfg.Factor)
	if next < t.cfg.MinInterval {
		next = t.cfg.MinInterval
	}
	t.intervals[session] = next
}

// RecordIdle grows the session's interval toward the maximum.
func (t *ActivityTracker) RecordIdle(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.currentLocked(session)
	next := time.Duration(float64(cur) * t.cfg.Factor)
	if next > t.cfg.MaxInterval {
		next = t.cfg.MaxInterval
	}
	t.intervals[session] = next
}

// IntervalFor returns the session's current adaptive interval, starting at
// the base for sessions with no recorded signal.
func (t *ActivityTracker) IntervalFor(session string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentLocked(session)
}

// Forget drops the session's state, returning it to the base interval.
func (t *ActivityTracker) Forget(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.intervals, session)
}

// WatchOutput consumes a session's output stream and feeds the tracker:
// an activity signal at most once per signalPeriod while output flows, an
// idle signal for each idleThreshold that passes without output. Blocks
// until ch closes, then drops the session's state.
func (t *ActivityTracker) WatchOutput(session string, ch <-chan []byte, signalPeriod, idleThreshold time.Duration) {
	if signalPeriod <= 0 {
		signalPeriod = DefaultActivitySignalPeriod
	}
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}

	idle := time.NewTicker(idleThreshold)
	defer idle.Stop()

	var lastSignal time.Time
	sawOutput := false
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				t.Forget(session)
				return
			}
			sawOutput = true
			if time.Since(lastSignal) >= signalPeriod {
				t.RecordActivity(session)
				lastSignal = time.Now()
			}
		case <-idle.C:
			if !sawOutput {
				t.RecordIdle(session)
			}
			sawOutput = false
		}
	}
}

func (t *ActivityTracker) currentLocked(session string) time.Duration {
	if cur, ok := t.intervals[session]; ok {
		return cur
	}
	return t.cfg.Base
}
