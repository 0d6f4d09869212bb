// Package queue provides the centralized message queue: a single-consumer
// FIFO across heterogeneous sources with full-state persistence, recovery
// on restart, and source-aware response routing.
package queue

import (
	"errors"
	"time"
)

// StateFile is the relative path of the persisted queue snapshot.
const StateFile = "queue-state.json"

// Sentinel errors for queue operations.
var (
	// ErrQueueEmpty indicates no pending messages are in the queue.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrAgentNotReady indicates the target agent could not accept input;
	// the message is re-enqueued rather than failed.
	ErrAgentNotReady = errors.New("agent not ready")

	// ErrMessageNotFound indicates no message matches the given id.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotCancellable indicates the message already left the pending
	// state and can no longer be cancelled.
	ErrNotCancellable = errors.New("message not cancellable")
)

// Source tags where a message came from; it determines how the response
// is routed after processing.
type Source string

// Message sources.
const (
	SourceWebChat      Source = "web_chat"
	SourceExternalChat Source = "external_chat"
	SourceSystemEvent  Source = "system_event"
)

// Status is the lifecycle state of a queued message. Transitions are
// monotonic except processing→pending on an agent-not-ready retry, which
// increments RetryCount.
type Status string

// Message statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// SourceMeta carries routing identifiers for the message's origin.
// Resolve is an in-process response callback; it is never persisted and a
// message recovered from disk falls back to metadata-based routing.
type SourceMeta struct {
	Channel  string `json:"channel,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
	UserID   string `json:"user_id,omitempty"`

	Resolve func(response string, failure error) `json:"-"`
}

// Message is one queued item.
type Message struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	ConversationID string     `json:"conversation_id"`
	TargetSession  string     `json:"target_session"`
	Source         Source     `json:"source"`
	Status         Status     `json:"status"`
	Meta           SourceMeta `json:"meta"`
	Response       string     `json:"response,omitempty"`
	Error          string     `json:"error,omitempty"`
	RetryCount     int        `json:"retry_count"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// EnqueueInput describes a new message for Enqueue.
type EnqueueInput struct {
	Content        string
	ConversationID string
	TargetSession  string
	Source         Source
	Meta           SourceMeta
}

// State is the persisted queue snapshot, written after every mutation.
// History is most-recent-first and bounded by Config.HistoryLimit.
type State struct {
	Pending        []*Message `json:"pending"`
	Current        *Message   `json:"current,omitempty"`
	History        []*Message `json:"history"`
	TotalProcessed int        `json:"total_processed"`
	TotalFailed    int        `json:"total_failed"`
}

// StatusReport is the externally visible queue status.
type StatusReport struct {
	PendingCount   int      `json:"pending_count"`
	Processing     *Message `json:"processing,omitempty"`
	TotalProcessed int      `json:"total_processed"`
	TotalFailed    int      `json:"total_failed"`
	HistorySize    int      `json:"history_size"`
}

// Queue event names published to the events gateway.
const (
	EventEnqueued   = "queue.message_enqueued"
	EventProcessing = "queue.message_processing"
	EventCompleted  = "queue.message_completed"
	EventFailed     = "queue.message_failed"
	EventCancelled  = "queue.message_cancelled"
)
