package queue

import (
	"context"
	"log/slog"
	"time"
)

// WebGateway publishes responses to connected web chat clients.
type WebGateway interface {
	PublishChatResponse(conversationID string, payload ChatResponsePayload)
}

// SlackPoster posts responses back to the originating Slack thread. It is
// the fallback path for external chat messages recovered from disk, whose
// in-process callback did not survive the restart.
type SlackPoster interface {
	PostThreadReply(ctx context.Context, channel, threadTS, text string) error
}

// ChatResponsePayload is the response event delivered to web chat clients.
type ChatResponsePayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response,omitempty"`
	Error          string `json:"error,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// Router dispatches finished messages back to their origin based on the
// source tag. web may be nil (no web clients), slack may be nil (Slack
// disabled); routing degrades to a log line.
type Router struct {
	web    WebGateway
	slack  SlackPoster
	logger *slog.Logger
}

// NewRouter creates the response router.
func NewRouter(web WebGateway, slack SlackPoster) *Router {
	return &Router{
		web:    web,
		slack:  slack,
		logger: slog.Default().With("component", "response-router"),
	}
}

// Route delivers a finished message's response to its origin:
// web chat responses go to the events gateway, external chat responses go
// through the in-process callback or back to the Slack thread, and system
// event responses are discarded.
func (r *Router) Route(msg *Message, response string, failure error) {
	log := r.logger.With("message_id", msg.ID, "source", msg.Source)

	switch msg.Source {
	case SourceWebChat:
		if r.web == nil {
			log.Warn("No web gateway configured, dropping response")
			return
		}
		payload := ChatResponsePayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Response:       response,
			Timestamp:      time.Now().Format(time.RFC3339Nano),
		}
		if failure != nil {
			payload.Error = failure.Error()
		}
		r.web.PublishChatResponse(msg.ConversationID, payload)

	case SourceExternalChat:
		if msg.Meta.Resolve != nil {
			msg.Meta.Resolve(response, failure)
			return
		}
		// Callback lost across a restart: rebuild delivery from the
		// persisted thread coordinates.
		if r.slack == nil || msg.Meta.Channel == "" {
			log.Warn("No route back to external chat, dropping response")
			return
		}
		text := response
		if failure != nil {
			text = ":warning: " + failure.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := r.slack.PostThreadReply(ctx, msg.Meta.Channel, msg.Meta.ThreadTS, text); err != nil {
			log.Error("Failed to post response to thread", "error", err)
		}

	case SourceSystemEvent:
		// System events expect no reply.
		log.Debug("Discarding system event response")

	default:
		log.Warn("Unknown source, dropping response")
	}
}
