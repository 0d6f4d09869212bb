package term

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend_CreateGetKill(t *testing.T) {
	b := NewBackend()

	s, err := b.CreateSession("agent-dev", Options{Command: "/bin/cat"})
	require.NoError(t, err)
	assert.True(t, b.SessionExists("agent-dev"))
	assert.Positive(t, s.PID())

	got, err := b.GetSession("agent-dev")
	require.NoError(t, err)
	assert.Same(t, s, got)

	// Name reuse is rejected while the session lives.
	_, err = b.CreateSession("agent-dev", Options{Command: "/bin/cat"})
	require.ErrorIs(t, err, ErrSessionExists)

	require.NoError(t, b.KillSession("agent-dev"))

	// The name becomes free once the exit path removes the entry.
	assert.Eventually(t, func() bool {
		return !b.SessionExists("agent-dev")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBackend_CreateHandler(t *testing.T) {
	b := NewBackend()

	var hooked *Session
	b.SetCreateHandler(func(s *Session) { hooked = s })

	s, err := b.CreateSession("watched", Options{Command: "/bin/cat"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.KillSession("watched") })

	require.NotNil(t, hooked, "create handler runs before CreateSession returns")
	assert.Same(t, s, hooked)
}

func TestBackend_ExitHandler(t *testing.T) {
	b := NewBackend()

	exited := make(chan string, 1)
	b.SetExitHandler(func(name string) { exited <- name })

	_, err := b.CreateSession("doomed", Options{Command: "/bin/cat"})
	require.NoError(t, err)
	require.NoError(t, b.KillSession("doomed"))

	select {
	case name := <-exited:
		assert.Equal(t, "doomed", name)
		assert.False(t, b.SessionExists("doomed"), "entry removed before the handler fires")
	case <-time.After(5 * time.Second):
		t.Fatal("exit handler never fired")
	}
}

func TestBackend_KillMissingSessionIsNoOp(t *testing.T) {
	b := NewBackend()
	assert.NoError(t, b.KillSession("never-existed"))
}

func TestBackend_GetMissingSession(t *testing.T) {
	b := NewBackend()
	_, err := b.GetSession("ghost")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = b.CaptureOutput("ghost", 10)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBackend_CaptureOutput(t *testing.T) {
	b := NewBackend()

	s, err := b.CreateSession("cap", Options{Command: "/bin/cat"})
	require.NoError(t, err)
	defer func() { _ = b.KillSession("cap") }()

	require.NoError(t, s.Write([]byte("hello capture\n")))

	// cat echoes through the PTY; wait for it to land in the ring.
	assert.Eventually(t, func() bool {
		out, err := b.CaptureOutput("cap", DefaultCaptureLines)
		return err == nil && len(out) > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBackend_ListSessions(t *testing.T) {
	b := NewBackend()
	assert.Empty(t, b.ListSessions())

	_, err := b.CreateSession("one", Options{Command: "/bin/cat"})
	require.NoError(t, err)
	defer func() { _ = b.KillSession("one") }()

	infos := b.ListSessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "one", infos[0].Name)
	assert.Equal(t, uint16(120), infos[0].Cols)
}
