// Package runtime adapts the session backend and commander to the
// supported interactive agent CLIs. Each runtime type carries its own init
// command, ready pattern, and liveness probe.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/agentmux/agentmux/pkg/term"
)

// Type identifies a supported agent runtime.
type Type string

const (
	TypeClaudeCode Type = "claude-code"
	TypeGeminiCLI  Type = "gemini-cli"
	TypeCodexCLI   Type = "codex-cli"
)

// Init timeouts. The orchestrator gets a larger budget because its init
// also waits for the auxiliary server setup.
const (
	ClaudeInitTimeout       = 45 * time.Second
	GenericInitTimeout      = 90 * time.Second
	OrchestratorInitTimeout = 120 * time.Second
)

// readyPollInterval is how often WaitForReady re-captures session output.
const readyPollInterval = 500 * time.Millisecond

// ErrUnknownRuntime indicates an unregistered runtime type.
var ErrUnknownRuntime = errors.New("unknown runtime type")

// ErrNotReady indicates the runtime did not show its ready pattern in time.
var ErrNotReady = errors.New("runtime not ready")

// ParseType validates a runtime type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeClaudeCode, TypeGeminiCLI, TypeCodexCLI:
		return Type(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRuntime, s)
	}
}

// StartConfig describes a runtime start request.
type StartConfig struct {
	SessionName    string
	Cwd            string
	Env            map[string]string
	InitCommand    string // overrides the runtime's default init command
	ResumeToken    string // runtime session id for rehydration, if any
	IsOrchestrator bool
}

// InitTimeout returns the ready-wait budget for this start request.
func (c StartConfig) InitTimeout(t Type) time.Duration {
	if c.IsOrchestrator {
		return OrchestratorInitTimeout
	}
	if t == TypeClaudeCode {
		return ClaudeInitTimeout
	}
	return GenericInitTimeout
}

// SessionBackend is the slice of the term backend the adapters consume.
type SessionBackend interface {
	CreateSession(name string, opts term.Options) (*term.Session, error)
	KillSession(name string) error
	SessionExists(name string) bool
	CaptureOutput(name string, lines int) (string, error)
}

// Commander is the slice of the command helper the adapters consume.
type Commander interface {
	SendMessage(ctx context.Context, session, text string) error
	SendKey(ctx context.Context, session, key string) error
	SetEnv(ctx context.Context, session, key, value string) error
}

// Adapter is the common shape of a runtime integration.
type Adapter interface {
	Type() Type

	// Start creates the session, exports environment, runs the init
	// command, and waits for the ready pattern.
	Start(ctx context.Context, cfg StartConfig) error

	// Stop kills the runtime's session. Tolerant of dead sessions.
	Stop(ctx context.Context, session string) error

	// Write sends a message into the runtime.
	Write(ctx context.Context, session, text string) error

	// Output captures recent session output.
	Output(session string, lines int) (string, error)

	// IsRunning reports whether the session exists.
	IsRunning(session string) bool

	// WaitForReady blocks until the ready pattern appears in the
	// captured output or the timeout elapses.
	WaitForReady(ctx context.Context, session string, timeout time.Duration) error

	// DetectRuntime probes the session to confirm the runtime is live
	// even when the process merely appears alive.
	DetectRuntime(ctx context.Context, session string) (bool, error)
}

// Registry resolves adapters by runtime type.
type Registry struct {
	adapters map[Type]Adapter
}

// NewRegistry builds a registry with all supported adapters.
func NewRegistry(backend SessionBackend, commander Commander) *Registry {
	r := &Registry{adapters: make(map[Type]Adapter)}
	for _, a := range []Adapter{
		NewClaudeAdapter(backend, commander),
		NewGeminiAdapter(backend, commander),
		NewCodexAdapter(backend, commander),
	} {
		r.adapters[a.Type()] = a
	}
	return r
}

// ForType returns the adapter for t.
func (r *Registry) ForType(t Type) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuntime, t)
	}
	return a, nil
}

// base carries the behavior shared by all adapters; variants supply the
// runtime-specific fields.
type base struct {
	typ          Type
	backend      SessionBackend
	commander    Commander
	initCommand  func(cfg StartConfig) string
	readyPattern *regexp.Regexp
	probeKey     string // single character that opens the command palette
	postInit     func(ctx context.Context, b *base, cfg StartConfig) error
}

func (b *base) Type() Type { return b.typ }

func (b *base) Start(ctx context.Context, cfg StartConfig) error {
	if _, err := b.backend.CreateSession(cfg.SessionName, term.Options{Cwd: cfg.Cwd}); err != nil {
		return err
	}

	for k, v := range cfg.Env {
		if err := b.commander.SetEnv(ctx, cfg.SessionName, k, v); err != nil {
			return fmt.Errorf("set env %s: %w", k, err)
		}
	}

	init := cfg.InitCommand
	if init == "" {
		init = b.initCommand(cfg)
	}
	if err := b.commander.SendMessage(ctx, cfg.SessionName, init); err != nil {
		return fmt.Errorf("run init command: %w", err)
	}

	if err := b.WaitForReady(ctx, cfg.SessionName, cfg.InitTimeout(b.typ)); err != nil {
		return err
	}

	if b.postInit != nil {
		if err := b.postInit(ctx, b, cfg); err != nil {
			return fmt.Errorf("post-init: %w", err)
		}
	}
	return nil
}

func (b *base) Stop(_ context.Context, session string) error {
	return b.backend.KillSession(session)
}

func (b *base) Write(ctx context.Context, session, text string) error {
	return b.commander.SendMessage(ctx, session, text)
}

func (b *base) Output(session string, lines int) (string, error) {
	return b.backend.CaptureOutput(session, lines)
}

func (b *base) IsRunning(session string) bool {
	return b.backend.SessionExists(session)
}

func (b *base) WaitForReady(ctx context.Context, session string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		out, err := b.backend.CaptureOutput(session, term.DefaultCaptureLines)
		if err == nil && b.readyPattern.MatchString(out) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("session %q (%s) after %v: %w", session, b.typ, timeout, ErrNotReady)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DetectRuntime writes the probe key (which opens the runtime's command
// palette) and compares output before and after. A live runtime redraws;
// a wedged or plain-shell session does not.
func (b *base) DetectRuntime(ctx context.Context, session string) (bool, error) {
	before, err := b.backend.CaptureOutput(session, term.DefaultCaptureLines)
	if err != nil {
		return false, err
	}

	if err := b.commander.SendKey(ctx, session, b.probeKey); err != nil {
		return false, err
	}

	after, err := b.backend.CaptureOutput(session, term.DefaultCaptureLines)
	if err != nil {
		return false, err
	}

	// Dismiss the palette regardless of outcome.
	if err := b.commander.SendKey(ctx, session, "Escape"); err != nil {
		return false, err
	}

	return before != after, nil
}
