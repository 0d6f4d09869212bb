package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/store"
)

type fakePoster struct {
	mu        sync.Mutex
	posts     []string
	threads   map[string]string // fingerprint -> ts
	fail      bool
	failFirst int // reject this many posts before accepting
}

func (f *fakePoster) PostThreadReply(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("slack unavailable")
	}
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("slack unavailable")
	}
	f.posts = append(f.posts, text)
	return nil
}

func (f *fakePoster) ResolveThread(_ context.Context, fingerprint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads[fingerprint], nil
}

func testReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		StartupDelay:  time.Millisecond,
		Interval:      time.Hour,
		MaxAttempts:   3,
		MaxMessageAge: time.Hour,
	}
}

func seedHistory(t *testing.T, st *store.Store, notifications ...Notification) {
	t.Helper()
	require.NoError(t, st.AtomicWriteJSON(HistoryFile, notifications))
}

func readHistory(t *testing.T, st *store.Store) []Notification {
	t.Helper()
	history, err := store.ReadJSON(st, HistoryFile, []Notification{})
	require.NoError(t, err)
	return history
}

func TestReconcileOnce_DeliversPending(t *testing.T) {
	st := store.New(t.TempDir())
	poster := &fakePoster{threads: map[string]string{"deploy failed on prod": "123.456"}}
	r := NewReconciler(st, poster, testReconcilerConfig())

	seedHistory(t, st, Notification{
		ID: "n-1", Session: "orc", Channel: "C9",
		Fingerprint: "deploy failed on prod",
		Text:        "rollback finished",
		Status:      DeliveryPending, CreatedAt: time.Now(),
	})

	delivered, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"rollback finished"}, poster.posts)

	history := readHistory(t, st)
	require.Len(t, history, 1)
	assert.Equal(t, DeliveryDelivered, history[0].Status)
	assert.Equal(t, 1, history[0].Attempts, "the delivering post counts as an attempt")
	assert.Equal(t, "123.456", history[0].ThreadTS, "resolved thread is persisted")
	assert.NotNil(t, history[0].DeliveredAt)
}

func TestReconcileOnce_RetryThenDeliverCountsEveryAttempt(t *testing.T) {
	st := store.New(t.TempDir())
	poster := &fakePoster{failFirst: 2}
	r := NewReconciler(st, poster, testReconcilerConfig())

	seedHistory(t, st, Notification{
		ID: "n-1", Text: "hello", Status: DeliveryPending, CreatedAt: time.Now(),
	})

	for i := 0; i < 2; i++ {
		_, err := r.ReconcileOnce(context.Background())
		require.NoError(t, err)
	}
	// Third scan succeeds; the attempt count includes the delivering post.
	delivered, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	history := readHistory(t, st)
	assert.Equal(t, DeliveryDelivered, history[0].Status)
	assert.Equal(t, 3, history[0].Attempts)
	assert.Empty(t, history[0].LastError)
}

func TestReconcileOnce_FailureIncrementsAttemptsThenGivesUp(t *testing.T) {
	st := store.New(t.TempDir())
	poster := &fakePoster{fail: true}
	r := NewReconciler(st, poster, testReconcilerConfig())

	seedHistory(t, st, Notification{
		ID: "n-1", Text: "hello", Status: DeliveryPending, CreatedAt: time.Now(),
	})

	for i := 1; i <= 2; i++ {
		_, err := r.ReconcileOnce(context.Background())
		require.NoError(t, err)
		history := readHistory(t, st)
		assert.Equal(t, i, history[0].Attempts)
		assert.Equal(t, DeliveryPending, history[0].Status)
	}

	// Third failure hits MaxAttempts and the notification is abandoned.
	_, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	history := readHistory(t, st)
	assert.Equal(t, DeliveryFailed, history[0].Status)
	assert.Contains(t, history[0].LastError, "gave up after 3 attempts")

	// Failed entries are not retried.
	_, err = r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, readHistory(t, st)[0].Attempts)
}

func TestReconcileOnce_ExpiresOldMessages(t *testing.T) {
	st := store.New(t.TempDir())
	poster := &fakePoster{}
	r := NewReconciler(st, poster, testReconcilerConfig())

	seedHistory(t, st, Notification{
		ID: "n-old", Text: "stale", Status: DeliveryPending,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	})

	delivered, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Empty(t, poster.posts, "expired messages are never posted")

	history := readHistory(t, st)
	assert.Equal(t, DeliveryFailed, history[0].Status)
	assert.Contains(t, history[0].LastError, "expired")
}

func TestReconcileOnce_SkipsDeliveredAndConcurrentRuns(t *testing.T) {
	st := store.New(t.TempDir())
	poster := &fakePoster{}
	r := NewReconciler(st, poster, testReconcilerConfig())

	ts := time.Now()
	seedHistory(t, st, Notification{
		ID: "n-done", Text: "done", Status: DeliveryDelivered,
		CreatedAt: ts, DeliveredAt: &ts,
	})

	delivered, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Empty(t, poster.posts)

	// A scan holding the run mutex makes overlapping calls no-ops.
	r.runMu.Lock()
	delivered, err = r.ReconcileOnce(context.Background())
	r.runMu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}
