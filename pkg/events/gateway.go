package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentmux/agentmux/pkg/queue"
	"github.com/agentmux/agentmux/pkg/team"
	"github.com/agentmux/agentmux/pkg/term"
)

// Gateway adapts internal publishers to WebSocket channels. It satisfies
// the broadcaster interfaces of the team registry and the queue.
type Gateway struct {
	manager *ConnectionManager
	logger  *slog.Logger
}

// NewGateway creates the event gateway.
func NewGateway(manager *ConnectionManager) *Gateway {
	return &Gateway{
		manager: manager,
		logger:  slog.Default().With("component", "event-gateway"),
	}
}

// Manager exposes the underlying connection manager for the WebSocket
// HTTP handler.
func (g *Gateway) Manager() *ConnectionManager { return g.manager }

// BroadcastTeamMemberStatus publishes an agent status transition on the
// teams channel.
func (g *Gateway) BroadcastTeamMemberStatus(payload team.MemberStatusPayload) {
	g.publish(TeamsChannel, map[string]any{
		"type":    EventTypeMemberStatus,
		"payload": payload,
	})
}

// PublishQueueEvent publishes a queue lifecycle transition on the
// conversation's channel.
func (g *Gateway) PublishQueueEvent(conversationID, event string, msg *queue.Message) {
	if conversationID == "" {
		return
	}
	g.publish(QueueChannel(conversationID), map[string]any{
		"type":    event,
		"message": msg,
	})
}

// PublishChatResponse delivers a finished web chat response on the
// conversation's channel.
func (g *Gateway) PublishChatResponse(conversationID string, payload queue.ChatResponsePayload) {
	g.publish(QueueChannel(conversationID), map[string]any{
		"type":    EventTypeChatResponse,
		"payload": payload,
	})
}

// PublishOrchestratorRestarted announces on the teams channel that a dead
// orchestrator session was brought back automatically.
func (g *Gateway) PublishOrchestratorRestarted(session string) {
	g.publish(TeamsChannel, map[string]any{
		"type":      EventTypeOrchestratorRestarted,
		"session":   session,
		"timestamp": time.Now().Format(time.RFC3339Nano),
	})
}

// PublishTerminalOutput streams a chunk of session output on the
// terminal channel.
func (g *Gateway) PublishTerminalOutput(session string, data []byte) {
	g.publish(TerminalChannel(session), map[string]any{
		"type":      EventTypeTerminalOutput,
		"session":   session,
		"data":      string(data),
		"timestamp": time.Now().Format(time.RFC3339Nano),
	})
}

// AttachTerminal pumps a session's output into its terminal channel until
// the session closes. Returns a detach function.
func (g *Gateway) AttachTerminal(s *term.Session) (func(), error) {
	ch, unregister, err := s.OnData()
	if err != nil {
		return nil, err
	}

	name := s.Name()
	go func() {
		for data := range ch {
			g.PublishTerminalOutput(name, data)
		}
	}()
	return unregister, nil
}

func (g *Gateway) publish(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Warn("Failed to marshal event", "channel", channel, "error", err)
		return
	}
	g.manager.Broadcast(channel, data)
}
