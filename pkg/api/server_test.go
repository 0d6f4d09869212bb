package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/term"
)

func TestServer_HealthAndRouting(t *testing.T) {
	s := NewServer(Deps{Backend: term.NewBackend()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, healthStatusDegraded, health.Status, "no queue running")
	assert.NotEmpty(t, health.Version)
	assert.Zero(t, health.Sessions)

	// Security headers apply to every route.
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestServer_WebSocketUnavailable(t *testing.T) {
	s := NewServer(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_UnknownRoute(t *testing.T) {
	s := NewServer(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
