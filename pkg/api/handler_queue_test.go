package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/delivery"
	"github.com/agentmux/agentmux/pkg/queue"
	"github.com/agentmux/agentmux/pkg/store"
)

// idleDeliverer never gets called: the queue worker is not started in
// these tests, so messages stay pending.
type idleDeliverer struct{}

func (idleDeliverer) Deliver(context.Context, string, string, delivery.Options) (delivery.Result, error) {
	return delivery.Result{}, nil
}

type idleCollector struct{}

func (idleCollector) CollectResponse(context.Context, string, string) (string, error) {
	return "", nil
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.New(store.New(t.TempDir()), idleDeliverer{}, idleCollector{},
		queue.NewRouter(nil, nil), nil, queue.Config{
			MaxRetries:   1,
			RetryDelay:   time.Millisecond,
			HistoryLimit: 10,
			ReplyTimeout: time.Second,
		})
	require.NoError(t, err)
	return q
}

func queueTestEcho(s *Server) *echo.Echo {
	e := echo.New()
	e.POST("/api/v1/queue/messages", s.enqueueHandler)
	e.GET("/api/v1/queue/status", s.queueStatusHandler)
	e.GET("/api/v1/queue/messages/:id", s.getMessageHandler)
	e.POST("/api/v1/queue/messages/:id/cancel", s.cancelMessageHandler)
	return e
}

func TestEnqueueHandler(t *testing.T) {
	s := &Server{queue: newTestQueue(t)}
	e := queueTestEcho(s)

	t.Run("invalid source returns 400", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/queue/messages",
			`{"content":"hi","target_session":"dev","source":"carrier_pigeon"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid source")
	})

	t.Run("missing content returns 400", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/queue/messages",
			`{"target_session":"dev","source":"web_chat"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("accepted message is queued", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/queue/messages",
			`{"content":"status?","target_session":"dev","source":"web_chat","conversation_id":"conv-1"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp EnqueueResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.MessageID)
		assert.Equal(t, "pending", resp.Status)

		// The message is visible through the status and get endpoints.
		statusRec := getJSON(e, "/api/v1/queue/status")
		require.Equal(t, http.StatusOK, statusRec.Code)
		var report queue.StatusReport
		require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &report))
		assert.Equal(t, 1, report.PendingCount)

		getRec := getJSON(e, "/api/v1/queue/messages/"+resp.MessageID)
		assert.Equal(t, http.StatusOK, getRec.Code)
	})
}

func TestCancelMessageHandler(t *testing.T) {
	q := newTestQueue(t)
	s := &Server{queue: q}
	e := queueTestEcho(s)

	t.Run("unknown id returns 404", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/queue/messages/nope/cancel", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("pending message cancels", func(t *testing.T) {
		id, err := q.Enqueue(queue.EnqueueInput{
			Content:       "never mind",
			TargetSession: "dev",
			Source:        queue.SourceWebChat,
		})
		require.NoError(t, err)

		rec := postJSON(e, "/api/v1/queue/messages/"+id+"/cancel", "")
		require.Equal(t, http.StatusOK, rec.Code)

		msg, err := q.Get(id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusCancelled, msg.Status)
	})
}
