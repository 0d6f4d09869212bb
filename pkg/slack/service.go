package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/pkg/store"
)

// HistoryFile is the relative path of the persisted notification history
// scanned by the reconciler.
const HistoryFile = "chat-history.json"

// Notification delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Notification is one outbound Slack delivery tracked on disk. Pending
// entries are retried by the reconciler until they deliver, exhaust their
// attempts, or age out.
type Notification struct {
	ID          string     `json:"id"`
	Session     string     `json:"session"`
	Channel     string     `json:"channel,omitempty"`
	ThreadTS    string     `json:"thread_ts,omitempty"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Text        string     `json:"text"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service handles Slack delivery for agent replies and status events.
// Nil-safe: all methods are no-ops when the service is nil.
type Service struct {
	client       *Client
	store        *store.Store
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack service. Returns nil if Token or Channel
// is empty, which disables Slack delivery throughout.
func NewService(cfg ServiceConfig, st *store.Store) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return NewServiceWithClient(NewClient(cfg.Token, cfg.Channel), st, cfg.DashboardURL)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, st *store.Store, dashboardURL string) *Service {
	return &Service{
		client:       client,
		store:        st,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// PostThreadReply posts a plain-text reply into a thread. Used by the
// response router when an external chat message was recovered from disk
// without its in-process callback.
func (s *Service) PostThreadReply(ctx context.Context, channel, threadTS, text string) error {
	if s == nil {
		return nil
	}
	return s.client.PostText(ctx, channel, threadTS, text)
}

// ResolveThread locates the origin message for a fingerprint and returns
// its timestamp for threading. Empty when not found.
func (s *Service) ResolveThread(ctx context.Context, fingerprint string) (string, error) {
	if s == nil {
		return "", nil
	}
	return s.client.FindMessageByFingerprint(ctx, fingerprint)
}

// SendAgentResponse posts an agent's reply into the originating thread.
// Fail-open: on error the notification is recorded as pending so the
// reconciler retries it later.
func (s *Service) SendAgentResponse(ctx context.Context, session, response, channel, threadTS, fingerprint string) {
	if s == nil {
		return
	}

	if threadTS == "" && fingerprint != "" {
		ts, err := s.client.FindMessageByFingerprint(ctx, fingerprint)
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for fingerprint",
				"session", session, "fingerprint", fingerprint, "error", err)
		}
		threadTS = ts
	}

	blocks := BuildResponseMessage(session, response, s.dashboardURL)
	if err := s.client.PostBlocks(ctx, channel, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack response, queueing for reconciliation",
			"session", session, "error", err)
		s.recordPending(Notification{
			Session:     session,
			Channel:     channel,
			ThreadTS:    threadTS,
			Fingerprint: fingerprint,
			Text:        response,
			Attempts:    1,
			LastError:   err.Error(),
		})
	}
}

// NotifyAgentDown announces a dead or failed agent session in the default
// channel. Fail-open: errors are logged, never returned.
func (s *Service) NotifyAgentDown(ctx context.Context, session, errMsg string) {
	if s == nil {
		return
	}
	blocks := BuildAgentDownMessage(session, errMsg, s.dashboardURL)
	if err := s.client.PostBlocks(ctx, "", blocks, "", 5*time.Second); err != nil {
		s.logger.Error("Failed to send agent-down notification",
			"session", session, "error", err)
	}
}

// recordPending appends a pending notification to the on-disk history.
func (s *Service) recordPending(n Notification) {
	n.ID = uuid.NewString()
	n.Status = DeliveryPending
	n.CreatedAt = time.Now()

	_, err := store.ModifyJSON(s.store, HistoryFile, []Notification{}, func(list *[]Notification) error {
		*list = append(*list, n)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to record pending notification", "error", err)
	}
}
