package term

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackTTY echoes everything written to it back as session output,
// standing in for a real PTY in tests.
type loopbackTTY struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newLoopbackTTY() *loopbackTTY {
	r, w := io.Pipe()
	return &loopbackTTY{r: r, w: w}
}

func (t *loopbackTTY) Read(p []byte) (int, error)  { return t.r.Read(p) }
func (t *loopbackTTY) Write(p []byte) (int, error) { return t.w.Write(p) }
func (t *loopbackTTY) Close() error {
	t.w.Close()
	return t.r.Close()
}

func newTestSession(t *testing.T, name string) *Session {
	t.Helper()
	s := newSession(name, newLoopbackTTY(), nil, Options{Cols: 80, Rows: 24})
	t.Cleanup(func() { _ = s.Kill(nil) })
	return s
}

func TestSession_DataListenerCap(t *testing.T) {
	s := newTestSession(t, "cap-test")

	unregisters := make([]func(), 0, MaxDataListeners)
	for i := range MaxDataListeners {
		_, unreg, err := s.OnData()
		require.NoError(t, err, "listener %d should register", i)
		unregisters = append(unregisters, unreg)
	}

	// Listener 101 fails with a message naming the cap.
	_, _, err := s.OnData()
	require.ErrorIs(t, err, ErrListenerLimit)
	assert.Contains(t, err.Error(), "100")

	// After one deregistration the slot is reusable.
	unregisters[0]()
	_, unreg, err := s.OnData()
	require.NoError(t, err)
	unreg()
}

func TestSession_ExitListenerCap(t *testing.T) {
	s := newTestSession(t, "exit-cap")

	for range MaxExitListeners {
		_, _, err := s.OnExit()
		require.NoError(t, err)
	}
	_, _, err := s.OnExit()
	require.ErrorIs(t, err, ErrListenerLimit)
	assert.Contains(t, err.Error(), "50")
}

func TestSession_OutputOrderPerListener(t *testing.T) {
	s := newTestSession(t, "order")

	ch, unreg, err := s.OnData()
	require.NoError(t, err)
	defer unreg()

	for i := range 5 {
		require.NoError(t, s.Write(fmt.Appendf(nil, "chunk-%d;", i)))
	}

	var got string
	deadline := time.After(2 * time.Second)
	for len(got) < len("chunk-0;")*5 {
		select {
		case chunk := <-ch:
			got += string(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for output, got %q", got)
		}
	}
	assert.Equal(t, "chunk-0;chunk-1;chunk-2;chunk-3;chunk-4;", got)
}

func TestSession_WriteAfterKillFails(t *testing.T) {
	s := newTestSession(t, "killed")
	require.NoError(t, s.Kill(nil))

	err := s.Write([]byte("hello"))
	require.ErrorIs(t, err, ErrSessionKilled)

	// Kill is idempotent.
	require.NoError(t, s.Kill(nil))
}

func TestSession_ExitNotifiedExactlyOnce(t *testing.T) {
	s := newTestSession(t, "exit-once")

	exitCh, _, err := s.OnExit()
	require.NoError(t, err)

	require.NoError(t, s.Kill(nil))

	select {
	case <-exitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("exit listener was not notified")
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done channel not closed")
	}
}

func TestSession_CaptureTail(t *testing.T) {
	s := newTestSession(t, "capture")

	ch, unreg, err := s.OnData()
	require.NoError(t, err)
	defer unreg()

	require.NoError(t, s.Write([]byte("one\ntwo\nthree\n")))
	// Wait until the read loop has consumed the write.
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("output never arrived")
	}

	assert.Eventually(t, func() bool {
		return s.CaptureTail(2, maxCaptureBytes) == "two\nthree"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "one\ntwo\nthree", s.CaptureTail(10, maxCaptureBytes))
}

func TestRingBuffer_EvictsOldest(t *testing.T) {
	r := newRingBuffer(8)
	_, _ = r.Write([]byte("abcdefgh"))
	_, _ = r.Write([]byte("XY"))
	assert.Equal(t, "cdefghXY", string(r.Bytes()))
}

func TestRingBuffer_ChunkLargerThanCapacity(t *testing.T) {
	r := newRingBuffer(4)
	_, _ = r.Write([]byte("0123456789"))
	assert.Equal(t, "6789", string(r.Bytes()))
}

func TestRingBuffer_TailLinesCapsPayload(t *testing.T) {
	r := newRingBuffer(1024)
	_, _ = r.Write([]byte("line1\nline2\nline3\n"))
	assert.Equal(t, "line3", r.TailLines(1, 1024))
	assert.Equal(t, "ne3", r.TailLines(1, 3))
}
