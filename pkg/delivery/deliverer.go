// Package delivery implements reliable message delivery into agent
// sessions: prompt detection, paced send, confirmation, and bounded
// retries, with at most one in-flight delivery per session.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentmux/agentmux/pkg/store"
	"github.com/agentmux/agentmux/pkg/term"
)

// Failure taxonomy. Only ErrSessionGone is terminal; the rest retry within
// the attempt and wall-clock budgets.
var (
	ErrPromptNotReady      = errors.New("prompt not ready")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrSessionGone         = errors.New("session gone")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
)

// Config holds the delivery timing budgets.
type Config struct {
	PromptDetectionTimeout time.Duration // wait for the input prompt
	ConfirmationTimeout    time.Duration // wait for the send confirmation
	TotalTimeout           time.Duration // wall-clock cap per Deliver call
	RetryDelay             time.Duration // pause between attempts
	PollInterval           time.Duration // capture re-check cadence
	MaxAttempts            int
}

// DefaultConfig returns the standard delivery budgets.
func DefaultConfig() Config {
	return Config{
		PromptDetectionTimeout: 10 * time.Second,
		ConfirmationTimeout:    5 * time.Second,
		TotalTimeout:           30 * time.Second,
		RetryDelay:             1 * time.Second,
		PollInterval:           250 * time.Millisecond,
		MaxAttempts:            3,
	}
}

// defaultPromptPattern matches the idle input prompt of the supported
// runtime TUIs and a plain shell prompt.
var defaultPromptPattern = regexp.MustCompile(`(│ >|❯|>\s*$|\$\s*$)`)

// Options tunes a single Deliver call.
type Options struct {
	MaxAttempts    int            // overrides Config.MaxAttempts when > 0
	ClearLineFirst bool           // clear any half-typed input before sending
	PromptPattern  *regexp.Regexp // overrides the default prompt pattern
	ConfirmPattern *regexp.Regexp // overrides the default confirmation check
}

// Result reports the outcome of a Deliver call.
type Result struct {
	Delivered bool `json:"delivered"`
	Attempts  int  `json:"attempts"`
}

// Backend is the slice of the session backend delivery consumes.
type Backend interface {
	SessionExists(name string) bool
	CaptureOutput(name string, lines int) (string, error)
}

// Commander is the slice of the command helper delivery consumes.
type Commander interface {
	SendMessage(ctx context.Context, session, text string) error
	ClearCommandLine(ctx context.Context, session string) error
}

// Deliverer sends messages into sessions with confirmation and retries.
type Deliverer struct {
	backend   Backend
	commander Commander
	cfg       Config

	// inflight serializes deliveries per session so two messages never
	// interleave keystrokes on one PTY.
	inflight *store.KeyedMutex

	logger *slog.Logger
}

// New creates a Deliverer.
func New(backend Backend, commander Commander, cfg Config) *Deliverer {
	return &Deliverer{
		backend:   backend,
		commander: commander,
		cfg:       cfg,
		inflight:  store.NewKeyedMutex(),
		logger:    slog.Default().With("component", "delivery"),
	}
}

// Deliver sends text into session and waits for confirmation. At most one
// delivery is in flight per session; concurrent calls queue behind the
// session's lock. Attempts and total wall-clock are bounded by Config.
func (d *Deliverer) Deliver(ctx context.Context, session, text string, opts Options) (Result, error) {
	var res Result
	err := d.inflight.With(session, func() error {
		var err error
		res, err = d.deliverLocked(ctx, session, text, opts)
		return err
	})
	return res, err
}

func (d *Deliverer) deliverLocked(ctx context.Context, session, text string, opts Options) (Result, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.cfg.MaxAttempts
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.TotalTimeout)
	defer cancel()

	log := d.logger.With("session", session)

	attempts := 0
	operation := func() error {
		attempts++
		err := d.attempt(ctx, session, text, opts)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrSessionGone):
			return backoff.Permanent(err)
		case attempts >= maxAttempts:
			return backoff.Permanent(fmt.Errorf("%w after %d attempts: %w",
				ErrMaxRetriesExceeded, attempts, err))
		default:
			log.Warn("Delivery attempt failed, retrying",
				"attempt", attempts, "error", err)
			return err
		}
	}

	policy := backoff.WithContext(newRetryPolicy(d.cfg), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		// Context expiry surfaces as the last attempt error when the
		// total budget runs out mid-retry.
		log.Warn("Delivery failed", "attempts", attempts, "error", err)
		return Result{Delivered: false, Attempts: attempts}, err
	}

	log.Info("Message delivered", "attempts", attempts)
	return Result{Delivered: true, Attempts: attempts}, nil
}

// attempt performs one prompt-detect / send / confirm cycle.
func (d *Deliverer) attempt(ctx context.Context, session, text string, opts Options) error {
	if !d.backend.SessionExists(session) {
		return fmt.Errorf("session %q: %w", session, ErrSessionGone)
	}

	prompt := opts.PromptPattern
	if prompt == nil {
		prompt = defaultPromptPattern
	}
	if !d.waitForPattern(ctx, session, prompt, d.cfg.PromptDetectionTimeout) {
		return fmt.Errorf("session %q: %w", session, ErrPromptNotReady)
	}

	if opts.ClearLineFirst {
		if err := d.commander.ClearCommandLine(ctx, session); err != nil {
			return err
		}
	}

	if err := d.commander.SendMessage(ctx, session, text); err != nil {
		if !d.backend.SessionExists(session) {
			return fmt.Errorf("session %q: %w", session, ErrSessionGone)
		}
		return err
	}

	confirm := opts.ConfirmPattern
	if confirm == nil {
		confirm = confirmationPattern(text)
	}
	if !d.waitForPattern(ctx, session, confirm, d.cfg.ConfirmationTimeout) {
		return fmt.Errorf("session %q: %w", session, ErrConfirmationTimeout)
	}
	return nil
}

// waitForPattern polls the session's captured tail until pattern matches
// or the timeout/context expires.
func (d *Deliverer) waitForPattern(ctx context.Context, session string, pattern *regexp.Regexp, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		out, err := d.backend.CaptureOutput(session, term.DefaultCaptureLines)
		if err == nil && pattern.MatchString(out) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// confirmationPattern builds the default confirmation check: the leading
// part of the message echoed back in the session output.
func confirmationPattern(text string) *regexp.Regexp {
	probe := text
	if len(probe) > 32 {
		probe = probe[:32]
	}
	return regexp.MustCompile(regexp.QuoteMeta(probe))
}

// newRetryPolicy paces retries at the configured delay without its own
// elapsed-time cap; the Deliver context enforces the total budget.
func newRetryPolicy(cfg Config) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryDelay
	b.Multiplier = 1.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}
