package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/queue"
	"github.com/agentmux/agentmux/pkg/team"
	"github.com/agentmux/agentmux/pkg/term"
)

func setupTestManager(t *testing.T) (*ConnectionManager, *httptest.Server) {
	t.Helper()

	manager := NewConnectionManager(5 * time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))

	t.Cleanup(func() { server.Close() })
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, channel string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: channel})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, subMsg))

	msg := readJSON(t, conn)
	require.Equal(t, "subscription.confirmed", msg["type"])
	require.Equal(t, channel, msg["channel"])
}

func TestConnectionManager_ConnectionEstablished(t *testing.T) {
	_, server := setupTestManager(t)
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestConnectionManager_Broadcast(t *testing.T) {
	manager, server := setupTestManager(t)

	conn1 := connectWS(t, server)
	conn2 := connectWS(t, server)
	readJSON(t, conn1)
	readJSON(t, conn2)

	channel := TerminalChannel("alpha-dev")
	subscribe(t, conn1, channel)
	subscribe(t, conn2, channel)

	require.Eventually(t, func() bool {
		return manager.subscriberCount(channel) == 2
	}, 2*time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"type": "test", "data": "hello"})
	manager.Broadcast(channel, payload)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readJSON(t, conn)
		assert.Equal(t, "test", msg["type"])
		assert.Equal(t, "hello", msg["data"])
	}
}

func TestConnectionManager_BroadcastSkipsOtherChannels(t *testing.T) {
	manager, server := setupTestManager(t)

	conn := connectWS(t, server)
	readJSON(t, conn)
	subscribe(t, conn, TerminalChannel("alpha-dev"))

	// No subscribers on this channel; broadcast must be a silent no-op.
	manager.Broadcast(TerminalChannel("other"), []byte(`{"type":"test"}`))

	payload, _ := json.Marshal(map[string]string{"type": "mine"})
	manager.Broadcast(TerminalChannel("alpha-dev"), payload)

	msg := readJSON(t, conn)
	assert.Equal(t, "mine", msg["type"], "only the subscribed channel's event arrives")
}

func TestConnectionManager_UnsubscribeStopsDelivery(t *testing.T) {
	manager, server := setupTestManager(t)

	conn := connectWS(t, server)
	readJSON(t, conn)

	channel := QueueChannel("conv-1")
	subscribe(t, conn, channel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	unsubMsg, _ := json.Marshal(ClientMessage{Action: "unsubscribe", Channel: channel})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, unsubMsg))

	require.Eventually(t, func() bool {
		return manager.subscriberCount(channel) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionManager_Ping(t *testing.T) {
	_, server := setupTestManager(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ping, _ := json.Marshal(ClientMessage{Action: "ping"})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, ping))

	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestGateway_PublishesTypedEvents(t *testing.T) {
	manager, server := setupTestManager(t)
	g := NewGateway(manager)

	conn := connectWS(t, server)
	readJSON(t, conn)
	subscribe(t, conn, TeamsChannel)
	subscribe(t, conn, QueueChannel("conv-1"))
	subscribe(t, conn, TerminalChannel("alpha-dev"))

	require.Eventually(t, func() bool {
		return manager.subscriberCount(TeamsChannel) == 1
	}, 2*time.Second, 10*time.Millisecond)

	g.BroadcastTeamMemberStatus(team.MemberStatusPayload{
		TeamID: "t1", SessionName: "alpha-dev", AgentStatus: team.AgentActive,
	})
	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeMemberStatus, msg["type"])

	g.PublishChatResponse("conv-1", queue.ChatResponsePayload{
		MessageID: "m-1", ConversationID: "conv-1", Response: "done",
	})
	msg = readJSON(t, conn)
	assert.Equal(t, EventTypeChatResponse, msg["type"])

	g.PublishTerminalOutput("alpha-dev", []byte("$ ls\n"))
	msg = readJSON(t, conn)
	assert.Equal(t, EventTypeTerminalOutput, msg["type"])
	assert.Equal(t, "$ ls\n", msg["data"])
}

func TestGateway_AttachTerminalStreamsSessionOutput(t *testing.T) {
	manager, server := setupTestManager(t)
	g := NewGateway(manager)

	backend := term.NewBackend()
	sess, err := backend.CreateSession("stream-test", term.Options{Command: "/bin/cat"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.KillSession("stream-test") })

	detach, err := g.AttachTerminal(sess)
	require.NoError(t, err)
	t.Cleanup(detach)

	conn := connectWS(t, server)
	readJSON(t, conn)
	subscribe(t, conn, TerminalChannel("stream-test"))
	require.Eventually(t, func() bool {
		return manager.subscriberCount(TerminalChannel("stream-test")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Write([]byte("ping\n")))

	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeTerminalOutput, msg["type"])
	assert.Equal(t, "stream-test", msg["session"])
	assert.Contains(t, msg["data"], "ping")
}
