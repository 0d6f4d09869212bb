package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Terminal collector defaults.
const (
	defaultCollectPoll  = time.Second
	defaultQuietPeriod  = 2 * time.Second
	defaultCaptureLines = 200
)

// CaptureBackend is the slice of the session backend the collector needs.
type CaptureBackend interface {
	CaptureOutput(name string, lines int) (string, error)
}

// TerminalCollector derives the agent's reply from terminal output: it
// snapshots the pane before waiting, then returns the new output once the
// terminal has been quiet for a settle period. Agents that report results
// through a side channel can install a different ResponseCollector.
type TerminalCollector struct {
	backend      CaptureBackend
	pollInterval time.Duration
	quietPeriod  time.Duration
	captureLines int
}

// NewTerminalCollector creates a collector with default settle timing.
func NewTerminalCollector(backend CaptureBackend) *TerminalCollector {
	return &TerminalCollector{
		backend:      backend,
		pollInterval: defaultCollectPoll,
		quietPeriod:  defaultQuietPeriod,
		captureLines: defaultCaptureLines,
	}
}

// CollectResponse waits for the session's output to change and then settle,
// and returns the portion produced after the snapshot. The ctx deadline
// bounds the wait; expiring before any new output is an error, expiring
// after new output returns what accumulated so far.
func (c *TerminalCollector) CollectResponse(ctx context.Context, session, messageID string) (string, error) {
	baseline, err := c.backend.CaptureOutput(session, c.captureLines)
	if err != nil {
		return "", fmt.Errorf("snapshot before reply: %w", err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var last string
	lastChange := time.Now()
	changed := false

	for {
		select {
		case <-ctx.Done():
			if changed {
				return newOutput(baseline, last), nil
			}
			return "", fmt.Errorf("waiting for reply on %q: %w", session, ctx.Err())
		case <-ticker.C:
			current, err := c.backend.CaptureOutput(session, c.captureLines)
			if err != nil {
				return "", fmt.Errorf("capturing reply: %w", err)
			}
			if current != last {
				last = current
				lastChange = time.Now()
				changed = changed || current != baseline
				continue
			}
			if changed && time.Since(lastChange) >= c.quietPeriod {
				return newOutput(baseline, last), nil
			}
		}
	}
}

// newOutput strips the pre-reply snapshot from the settled capture. When
// the pane scrolled past the snapshot the full capture is returned.
func newOutput(baseline, current string) string {
	if rest, ok := strings.CutPrefix(current, baseline); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(current)
}
