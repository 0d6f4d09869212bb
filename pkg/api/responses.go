package api

import "github.com/agentmux/agentmux/pkg/queue"

// IDResponse is returned by create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// CaptureResponse is returned by GET /api/v1/sessions/:name/capture.
type CaptureResponse struct {
	Session string `json:"session"`
	Lines   int    `json:"lines"`
	Output  string `json:"output"`
}

// EnqueueResponse is returned by POST /api/v1/queue/messages.
type EnqueueResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// CancelResponse is returned by POST cancel endpoints.
type CancelResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// SuspendResponse is returned by POST /api/v1/agents/:session/suspend.
type SuspendResponse struct {
	Session   string `json:"session"`
	Suspended bool   `json:"suspended"`
	Message   string `json:"message,omitempty"`
}

// RehydrateResponse is returned by POST /api/v1/agents/:session/rehydrate.
type RehydrateResponse struct {
	Session string `json:"session"`
	Resumed bool   `json:"resumed"`
}

// HealthCheck is one component's health in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Sessions int                    `json:"sessions"`
	Queue    *queue.StatusReport    `json:"queue,omitempty"`
	Checks   map[string]HealthCheck `json:"checks,omitempty"`
}
