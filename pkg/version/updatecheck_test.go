package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/store"
)

func newTestChecker(t *testing.T, handler http.HandlerFunc) (*Checker, *store.Store) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	st := store.New(t.TempDir())
	c := NewChecker(st)
	c.releaseURL = server.URL
	c.ttl = time.Hour
	return c, st
}

func TestChecker_FetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	c, st := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"tag_name":"v1.4.0"}`))
	})

	result, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", result.Latest)
	assert.Equal(t, Full(), result.Current)

	// Second call inside the TTL is served from the cache file.
	_, err = c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	cached, err := store.ReadJSON(st, UpdateCheckFile, UpdateCheck{})
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", cached.Latest)
}

func TestChecker_StaleCacheRefreshes(t *testing.T) {
	var hits atomic.Int32
	c, st := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"tag_name":"v2.0.0"}`))
	})

	require.NoError(t, st.AtomicWriteJSON(UpdateCheckFile, UpdateCheck{
		Latest:    "v1.0.0",
		CheckedAt: time.Now().Add(-2 * time.Hour),
	}))

	result, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", result.Latest)
	assert.Equal(t, int32(1), hits.Load())
}

func TestChecker_NetworkFailureFallsBackToCache(t *testing.T) {
	c, st := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	require.NoError(t, st.AtomicWriteJSON(UpdateCheckFile, UpdateCheck{
		Latest:    "v1.0.0",
		CheckedAt: time.Now().Add(-2 * time.Hour),
	}))

	result, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", result.Latest)
}

func TestFull(t *testing.T) {
	assert.Contains(t, Full(), AppName+"/")
}
