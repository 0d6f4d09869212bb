// Package term owns the PTY lifecycle: spawning interactive agent
// processes, fanning their output out to bounded listener sets, and
// capturing recent output for inspection.
package term

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Listener caps. Registration past the cap fails fast so leaking callers
// are noticed instead of silently degrading fan-out.
const (
	MaxDataListeners = 100
	MaxExitListeners = 50
)

// listenerChanSize is the per-listener channel buffer. Listeners that fall
// further behind than this drop chunks rather than stalling the read loop.
const listenerChanSize = 64

// forceKillGrace is how long ForceKill waits for a graceful exit before
// escalating to SIGKILL.
const forceKillGrace = 3 * time.Second

// Options configures a new session.
type Options struct {
	Command  string   // program to run; defaults to the user's shell
	Args     []string // program arguments
	Cwd      string   // working directory
	Env      []string // extra environment entries (KEY=VALUE)
	Cols     uint16   // terminal width; defaults to 120
	Rows     uint16   // terminal height; defaults to 40
	RingSize int      // output ring capacity; defaults to DefaultRingSize
}

// Session wraps one live PTY process. All mutations go through the Session
// itself; other components hold it by name via the Backend.
type Session struct {
	name      string
	cwd       string
	createdAt time.Time
	ring      *ringBuffer

	cmd  *exec.Cmd
	ptmx *os.File
	tty  io.ReadWriteCloser

	mu            sync.Mutex
	cols, rows    uint16
	killed        bool
	dataListeners map[int]chan []byte
	exitListeners map[int]chan struct{}
	nextListener  int

	exitOnce sync.Once
	done     chan struct{}
	onClosed func(name string)

	logger *slog.Logger
}

// newSession wires a session around an already-open terminal. cmd may be
// nil (tests drive the tty directly through a pipe).
func newSession(name string, tty io.ReadWriteCloser, cmd *exec.Cmd, opts Options) *Session {
	s := &Session{
		name:          name,
		cwd:           opts.Cwd,
		createdAt:     time.Now(),
		ring:          newRingBuffer(opts.RingSize),
		cmd:           cmd,
		tty:           tty,
		cols:          opts.Cols,
		rows:          opts.Rows,
		dataListeners: make(map[int]chan []byte),
		exitListeners: make(map[int]chan struct{}),
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "term", "session", name),
	}
	if ptmx, ok := tty.(*os.File); ok {
		s.ptmx = ptmx
	}
	go s.readLoop()
	return s
}

// spawn starts the configured command on a fresh PTY.
func spawn(name string, opts Options) (*Session, error) {
	command := opts.Command
	if command == "" {
		command = os.Getenv("SHELL")
		if command == "" {
			command = "/bin/bash"
		}
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}
	if opts.Rows == 0 {
		opts.Rows = 40
	}

	cmd := exec.Command(command, opts.Args...)
	cmd.Dir = opts.Cwd
	cmd.Env = append(os.Environ(), opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("spawn pty for session %q: %w", name, err)
	}
	return newSession(name, ptmx, cmd, opts), nil
}

// Name returns the session's unique name.
func (s *Session) Name() string { return s.name }

// Cwd returns the working directory the session was started in.
func (s *Session) Cwd() string { return s.cwd }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// PID returns the process id of the PTY child, or 0 when not running.
func (s *Session) PID() int {
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Write sends raw bytes to the PTY. Writing to a killed session fails.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	killed := s.killed
	s.mu.Unlock()
	if killed {
		return fmt.Errorf("write to session %q: %w", s.name, ErrSessionKilled)
	}
	if _, err := s.tty.Write(p); err != nil {
		return fmt.Errorf("write to session %q: %w", s.name, err)
	}
	return nil
}

// Resize changes the terminal dimensions.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return fmt.Errorf("resize session %q: %w", s.name, ErrSessionKilled)
	}
	s.cols, s.rows = cols, rows
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return nil
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize session %q: %w", s.name, err)
	}
	return nil
}

// Size returns the current terminal dimensions.
func (s *Session) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// IsKilled reports whether Kill has been called.
func (s *Session) IsKilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// Done is closed once the underlying process has exited and all exit
// listeners were notified.
func (s *Session) Done() <-chan struct{} { return s.done }

// Kill terminates the session's process. Idempotent: a second call is a
// no-op. sig defaults to SIGTERM when nil.
func (s *Session) Kill(sig os.Signal) error {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return nil
	}
	s.killed = true
	s.mu.Unlock()

	if sig == nil {
		sig = syscall.SIGTERM
	}
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Signal(sig); err != nil {
			s.logger.Debug("Signal after process exit", "error", err)
		}
	}
	// Closing the terminal unblocks the read loop, which drives exit
	// notification and backend removal.
	s.tty.Close()
	return nil
}

// ForceKill terminates the session, escalating to SIGKILL when the process
// does not exit within the grace period.
func (s *Session) ForceKill() error {
	if err := s.Kill(syscall.SIGTERM); err != nil {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(forceKillGrace):
	}

	s.logger.Warn("Session did not exit after SIGTERM, escalating to SIGKILL")
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	select {
	case <-s.done:
	case <-time.After(forceKillGrace):
		return fmt.Errorf("session %q did not exit after SIGKILL", s.name)
	}
	return nil
}

// OnData registers a data listener and returns its channel plus an
// unregister function. At most MaxDataListeners listeners may be registered;
// further registrations fail with ErrListenerLimit.
func (s *Session) OnData() (<-chan []byte, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dataListeners) >= MaxDataListeners {
		return nil, nil, fmt.Errorf("session %q: data listener cap of %d reached: %w",
			s.name, MaxDataListeners, ErrListenerLimit)
	}
	id := s.nextListener
	s.nextListener++
	ch := make(chan []byte, listenerChanSize)
	s.dataListeners[id] = ch

	unregister := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.dataListeners[id]; ok {
			delete(s.dataListeners, id)
			close(ch)
		}
	}
	return ch, unregister, nil
}

// OnExit registers an exit listener. The returned channel is closed exactly
// once when the session's process exits. At most MaxExitListeners listeners
// may be registered.
func (s *Session) OnExit() (<-chan struct{}, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.exitListeners) >= MaxExitListeners {
		return nil, nil, fmt.Errorf("session %q: exit listener cap of %d reached: %w",
			s.name, MaxExitListeners, ErrListenerLimit)
	}
	id := s.nextListener
	s.nextListener++
	ch := make(chan struct{})
	s.exitListeners[id] = ch

	unregister := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.exitListeners, id)
	}
	return ch, unregister, nil
}

// CaptureTail returns at most n trailing output lines, bounded by the
// backend's payload cap.
func (s *Session) CaptureTail(n, maxBytes int) string {
	return s.ring.TailLines(n, maxBytes)
}

// readLoop pumps PTY output into the ring buffer and listener channels
// until the terminal closes, then fires exit notification exactly once.
func (s *Session) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.tty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.ring.Write(chunk)
			s.broadcast(chunk)
		}
		if err != nil {
			s.handleExit()
			return
		}
	}
}

// broadcast delivers a chunk to every data listener. Per-listener ordering
// follows process order; listeners that cannot keep up drop the chunk.
func (s *Session) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.dataListeners {
		select {
		case ch <- chunk:
		default:
			// Slow listener: drop rather than stall the read loop.
		}
	}
}

func (s *Session) handleExit() {
	s.exitOnce.Do(func() {
		if s.cmd != nil {
			_ = s.cmd.Wait()
		}

		s.mu.Lock()
		s.killed = true
		exitChans := make([]chan struct{}, 0, len(s.exitListeners))
		for _, ch := range s.exitListeners {
			exitChans = append(exitChans, ch)
		}
		s.exitListeners = make(map[int]chan struct{})
		for _, ch := range s.dataListeners {
			close(ch)
		}
		s.dataListeners = make(map[int]chan []byte)
		onClosed := s.onClosed
		s.mu.Unlock()

		for _, ch := range exitChans {
			close(ch)
		}
		close(s.done)
		if onClosed != nil {
			onClosed(s.name)
		}
		s.logger.Info("Session exited")
	})
}
