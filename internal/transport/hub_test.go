package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records written frames.
type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	fail   bool
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		return err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) written() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func TestHub_SendToConnectedChat(t *testing.T) {
	t.Parallel()
	h := NewHub(nil, nil)
	ctx := context.Background()
	a, b, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.Register(ctx, 1, 7, a)
	h.Register(ctx, 1, 8, b)
	h.Register(ctx, 2, 7, other)

	id, err := h.Send(ctx, Reply{ChatID: 1, Text: "hello"})
	require.NoError(t, err)
	assert.Positive(t, id)

	for _, c := range []*fakeConn{a, b} {
		frames := c.written()
		require.Len(t, frames, 1)
		assert.Equal(t, "reply", frames[0].Type)
		assert.Equal(t, id, frames[0].MessageID)
		assert.Equal(t, "hello", frames[0].Reply.Text)
	}
	assert.Empty(t, other.written())
}

func TestHub_EditKeepsMessageID(t *testing.T) {
	t.Parallel()
	h := NewHub(nil, nil)

	first, _ := h.Send(context.Background(), Reply{ChatID: 1, Text: "a"})
	edited, _ := h.Send(context.Background(), Reply{ChatID: 1, Text: "b", EditMessageID: first})
	next, _ := h.Send(context.Background(), Reply{ChatID: 1, Text: "c"})

	assert.Equal(t, first, edited)
	assert.Greater(t, next, first)
}

func TestHub_QueuesOfflineAndReplaysOnRegister(t *testing.T) {
	t.Parallel()
	h := NewHub(NewOfflineQueue(2, 0), nil)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := h.Send(ctx, Reply{ChatID: 5, Text: text})
		require.NoError(t, err)
	}

	c := &fakeConn{}
	h.Register(ctx, 5, 7, c)

	frames := c.written()
	require.Len(t, frames, 2, "queue is bounded per chat")
	assert.Equal(t, "two", frames[0].Reply.Text)
	assert.Equal(t, "three", frames[1].Reply.Text)
	assert.True(t, frames[0].Queued)

	h.Unregister(5, 7, c)
	fresh := &fakeConn{}
	h.Register(ctx, 5, 7, fresh)
	assert.Empty(t, fresh.written(), "replayed frames are not replayed twice")
}

func TestHub_FailedWriteQueues(t *testing.T) {
	t.Parallel()
	h := NewHub(nil, nil)
	ctx := context.Background()

	broken := &fakeConn{fail: true}
	h.Register(ctx, 3, 7, broken)
	_, err := h.Send(ctx, Reply{ChatID: 3, Text: "lost?"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.queue.Len(3))
}

func TestHub_RegisterReplacesAndUnregisterIgnoresStale(t *testing.T) {
	t.Parallel()
	h := NewHub(nil, nil)
	ctx := context.Background()

	old, cur := &fakeConn{}, &fakeConn{}
	h.Register(ctx, 1, 7, old)
	h.Register(ctx, 1, 7, cur)
	assert.True(t, old.closed)

	another := &fakeConn{}
	h.Register(ctx, 1, 8, another)
	assert.False(t, cur.closed, "another user's connection is kept")
	assert.Equal(t, 2, h.Connected(1))
	h.Unregister(1, 8, another)

	h.Unregister(1, 7, old)
	assert.Equal(t, 1, h.Connected(1))

	h.Unregister(1, 7, cur)
	assert.Equal(t, 0, h.Connected(1))
}

func TestOfflineQueue_DropsExpired(t *testing.T) {
	t.Parallel()
	q := NewOfflineQueue(10, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	q.Enqueue(1, Frame{Type: "reply", MessageID: 1})
	now = now.Add(2 * time.Minute)
	q.Enqueue(1, Frame{Type: "reply", MessageID: 2})

	frames := q.Drain(1)
	require.Len(t, frames, 1)
	assert.Equal(t, int64(2), frames[0].MessageID)
	assert.Zero(t, q.Len(1))
}
