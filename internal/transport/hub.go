package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Conn is the part of *websocket.Conn the hub writes through.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Hub tracks the websocket connections of each chat, one per user, and
// delivers replies to them. Replies for chats with no connection are queued
// and replayed on the next Register.
type Hub struct {
	mu           sync.RWMutex
	active       map[int64]map[int64]Conn // chat -> user -> conn
	queue        *OfflineQueue
	nextID       atomic.Int64
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewHub creates a hub over queue. logger may be nil.
func NewHub(queue *OfflineQueue, logger *slog.Logger) *Hub {
	if queue == nil {
		queue = NewOfflineQueue(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active:       make(map[int64]map[int64]Conn),
		queue:        queue,
		writeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// Register adds conn for the user in chatID, closing the user's previous
// connection to that chat, then replays frames queued while the chat was
// offline.
func (h *Hub) Register(ctx context.Context, chatID, userID int64, conn Conn) {
	h.mu.Lock()
	if _, ok := h.active[chatID]; !ok {
		h.active[chatID] = make(map[int64]Conn)
	}
	existing, ok := h.active[chatID][userID]
	replaced := ok && existing != conn
	h.active[chatID][userID] = conn
	h.mu.Unlock()
	// Close waits for the peer's handshake, so it runs outside the lock.
	if replaced {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.logger.Info("chat connection registered", "chat_id", chatID, "user_id", userID, "replaced", replaced)

	pending := h.queue.Drain(chatID)
	for i, f := range pending {
		if err := h.write(ctx, conn, f); err != nil {
			h.logger.Warn("replay failed, requeueing", "chat_id", chatID, "remaining", len(pending)-i, "error", err)
			for _, rest := range pending[i:] {
				h.queue.Enqueue(chatID, rest)
			}
			return
		}
	}
	if len(pending) > 0 {
		h.logger.Info("replayed queued replies", "chat_id", chatID, "count", len(pending))
	}
}

// Unregister removes conn if it is still the user's registered connection.
func (h *Hub) Unregister(chatID, userID int64, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[chatID]
	if !ok {
		return
	}
	if current, ok := conns[userID]; ok && current == conn {
		delete(conns, userID)
		if len(conns) == 0 {
			delete(h.active, chatID)
		}
		h.logger.Info("chat connection unregistered", "chat_id", chatID, "user_id", userID)
	}
}

// Connected reports how many connections chatID has.
func (h *Hub) Connected(chatID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[chatID])
}

// CloseAll closes every connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for chatID, conns := range h.active {
		for _, c := range conns {
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.active, chatID)
	}
}

// Send implements Sender. Edits keep the edited message's id; new messages
// get the next id. A reply no connection accepted is queued.
func (h *Hub) Send(ctx context.Context, r Reply) (int64, error) {
	id := r.EditMessageID
	if id == 0 {
		id = h.nextID.Add(1)
	}
	f := Frame{Type: "reply", MessageID: id, Reply: &r}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.active[r.ChatID]))
	for _, c := range h.active[r.ChatID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := h.write(ctx, c, f); err != nil {
			h.logger.Debug("reply write failed", "chat_id", r.ChatID, "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		h.queue.Enqueue(r.ChatID, f)
		h.logger.Debug("reply queued for offline chat", "chat_id", r.ChatID, "message_id", id)
	}
	return id, nil
}

func (h *Hub) write(ctx context.Context, c Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, data)
}
