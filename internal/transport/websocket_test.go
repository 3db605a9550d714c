package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/chatdesk/internal/identity"
)

// echoEvents answers every event through the hub.
type echoEvents struct {
	hub *Hub
}

func (e echoEvents) HandleMessage(ctx context.Context, m Message) error {
	_, err := e.hub.Send(ctx, Reply{ChatID: m.ChatID, UserID: m.UserID, Text: "echo: " + m.Text})
	return err
}

func (e echoEvents) HandlePress(ctx context.Context, p Press) error {
	_, err := e.hub.Send(ctx, Reply{ChatID: p.ChatID, UserID: p.UserID, Text: "pressed: " + p.Action, EditMessageID: p.MessageID})
	return err
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, out any) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if out != nil {
		data, err := json.Marshal(out)
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
	}
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWebSocketHandler(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	h := NewWebSocketHandler(echoEvents{hub: hub}, hub, []string{"*"}, true, nil)
	srv := httptest.NewServer(identity.Middleware(h))
	t.Cleanup(srv.Close)

	// Queued before the client connects.
	_, err := hub.Send(context.Background(), Reply{ChatID: 11, Text: "while you were away"})
	require.NoError(t, err)

	conn := dial(t, srv.URL+"/?chat_id=11&user_id=22")

	f := exchange(t, conn, nil)
	assert.Equal(t, "while you were away", f.Reply.Text)
	assert.True(t, f.Queued)

	f = exchange(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", f.Type)

	f = exchange(t, conn, map[string]any{"type": "message", "text": "hi"})
	require.Equal(t, "reply", f.Type)
	assert.Equal(t, "echo: hi", f.Reply.Text)
	assert.Equal(t, int64(22), f.Reply.UserID)

	f = exchange(t, conn, map[string]any{"type": "press", "action": "oc|ok||tok", "message_id": f.MessageID})
	assert.Equal(t, "pressed: oc|ok||tok", f.Reply.Text)

	f = exchange(t, conn, map[string]any{"type": "press"})
	assert.Equal(t, "error", f.Type)

	f = exchange(t, conn, map[string]any{"type": "shout"})
	assert.Equal(t, "error", f.Type)
}

func TestWebSocketHandlerReconnectReplacesConnection(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	h := NewWebSocketHandler(echoEvents{hub: hub}, hub, []string{"*"}, true, nil)
	srv := httptest.NewServer(identity.Middleware(h))
	t.Cleanup(srv.Close)

	first := dial(t, srv.URL+"/?chat_id=11&user_id=22")
	assert.Equal(t, "pong", exchange(t, first, map[string]any{"type": "ping"}).Type)

	second := dial(t, srv.URL+"/?chat_id=11&user_id=22")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	assert.Equal(t, "pong", exchange(t, second, map[string]any{"type": "ping"}).Type)
	assert.Equal(t, 1, hub.Connected(11))

	f := exchange(t, second, map[string]any{"type": "message", "text": "still here"})
	assert.Equal(t, "echo: still here", f.Reply.Text)
}

func TestWebSocketHandlerRejectsOrigin(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	h := NewWebSocketHandler(echoEvents{hub: hub}, hub, []string{"https://desk.example"}, false, nil)
	srv := httptest.NewServer(identity.Middleware(h))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, srv.URL+"/?user_id=1", &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Origin": {"https://evil.example"}},
	})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 403, resp.StatusCode)
	}
}
