package term

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Output capture bounds.
const (
	DefaultCaptureLines = 100
	MaxCaptureLines     = 500
	maxCaptureBytes     = 16 * 1024
)

// Info is a read-only snapshot of a session for listings.
type Info struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Cwd       string    `json:"cwd"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

// Backend indexes live sessions by name. It is the exclusive owner of
// sessions; every other component refers to them by name.
type Backend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onCreate func(s *Session)
	onExit   func(name string)
	logger   *slog.Logger
}

// NewBackend creates an empty session backend.
func NewBackend() *Backend {
	return &Backend{
		sessions: make(map[string]*Session),
		logger:   slog.Default().With("component", "term-backend"),
	}
}

// CreateSession spawns a new PTY session under name. Fails when the name is
// already registered; a killed session keeps its name reserved until its
// process exit removes the entry.
func (b *Backend) CreateSession(name string, opts Options) (*Session, error) {
	b.mu.Lock()
	if _, ok := b.sessions[name]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("create session %q: %w", name, ErrSessionExists)
	}
	// Reserve the name before the (slow) spawn so concurrent creates fail fast.
	b.sessions[name] = nil
	b.mu.Unlock()

	session, err := spawn(name, opts)
	if err != nil {
		b.mu.Lock()
		delete(b.sessions, name)
		b.mu.Unlock()
		return nil, err
	}
	session.onClosed = b.remove

	b.mu.Lock()
	b.sessions[name] = session
	onCreate := b.onCreate
	b.mu.Unlock()

	b.logger.Info("Session created", "session", name, "pid", session.PID(), "cwd", opts.Cwd)
	if onCreate != nil {
		onCreate(session)
	}
	return session, nil
}

// GetSession returns the live session registered under name.
func (b *Backend) GetSession(name string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[name]
	if !ok || s == nil {
		return nil, fmt.Errorf("session %q: %w", name, ErrSessionNotFound)
	}
	return s, nil
}

// SessionExists reports whether name is registered.
func (b *Backend) SessionExists(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[name]
	return ok && s != nil
}

// Write sends raw bytes to the named session's PTY.
func (b *Backend) Write(name string, p []byte) error {
	s, err := b.GetSession(name)
	if err != nil {
		return err
	}
	return s.Write(p)
}

// KillSession terminates the named session. Tolerant of already-dead
// sessions: a missing name is a no-op.
func (b *Backend) KillSession(name string) error {
	s, err := b.GetSession(name)
	if err != nil {
		return nil
	}
	return s.ForceKill()
}

// ListSessions returns snapshots of all live sessions.
func (b *Backend) ListSessions() []Info {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Info, 0, len(b.sessions))
	for _, s := range b.sessions {
		if s == nil {
			continue
		}
		cols, rows := s.Size()
		out = append(out, Info{
			Name:      s.Name(),
			PID:       s.PID(),
			Cwd:       s.Cwd(),
			Cols:      cols,
			Rows:      rows,
			CreatedAt: s.CreatedAt(),
		})
	}
	return out
}

// CaptureOutput returns at most lines trailing lines of the session's ring
// buffer. lines defaults to DefaultCaptureLines and is clamped to
// MaxCaptureLines; the payload is capped at 16 KiB.
func (b *Backend) CaptureOutput(name string, lines int) (string, error) {
	s, err := b.GetSession(name)
	if err != nil {
		return "", err
	}
	if lines <= 0 {
		lines = DefaultCaptureLines
	}
	if lines > MaxCaptureLines {
		lines = MaxCaptureLines
	}
	return s.CaptureTail(lines, maxCaptureBytes), nil
}

// SetCreateHandler installs fn to run after a session is created and
// registered. Runs on the creating goroutine before CreateSession returns.
func (b *Backend) SetCreateHandler(fn func(s *Session)) {
	b.mu.Lock()
	b.onCreate = fn
	b.mu.Unlock()
}

// SetExitHandler installs fn to run after a session's process exits and
// its name has been released. Runs on the session's exit goroutine.
func (b *Backend) SetExitHandler(fn func(name string)) {
	b.mu.Lock()
	b.onExit = fn
	b.mu.Unlock()
}

// remove drops an exited session's registry entry, freeing the name.
func (b *Backend) remove(name string) {
	b.mu.Lock()
	delete(b.sessions, name)
	fn := b.onExit
	b.mu.Unlock()

	if fn != nil {
		fn(name)
	}
}
