// Package events provides real-time event delivery to dashboard clients
// over WebSocket. Clients subscribe to named channels; publishers broadcast
// terminal output, team status transitions, and queue lifecycle events.
package events

// Event types published to subscribers.
const (
	EventTypeTerminalOutput        = "terminal.output"
	EventTypeMemberStatus          = "team.member_status"
	EventTypeChatResponse          = "chat.response"
	EventTypeOrchestratorRestarted = "orchestrator.restarted"
)

// TeamsChannel carries team member status transitions. The teams page
// subscribes to this for live agent status.
const TeamsChannel = "teams"

// TerminalChannel returns the channel name for a session's raw output.
// Format: "terminal:{session_name}"
func TerminalChannel(session string) string {
	return "terminal:" + session
}

// QueueChannel returns the channel name for a conversation's queue events.
// Format: "queue:{conversation_id}"
func QueueChannel(conversationID string) string {
	return "queue:" + conversationID
}

// ClientMessage is the JSON structure for client → server WebSocket
// messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // e.g. "terminal:alpha-dev"
}
