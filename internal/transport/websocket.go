package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"

	"github.com/ashureev/chatdesk/internal/identity"
)

// EventHandler consumes inbound chat events.
type EventHandler interface {
	HandleMessage(ctx context.Context, m Message) error
	HandlePress(ctx context.Context, p Press) error
}

// inboundFrame is the client-to-server websocket frame.
type inboundFrame struct {
	Type      string `json:"type" validate:"required,oneof=message press ping"`
	Text      string `json:"text,omitempty" validate:"required_if=Type message,max=4096"`
	Action    string `json:"action,omitempty" validate:"required_if=Type press,max=256"`
	MessageID int64  `json:"message_id,omitempty" validate:"gte=0"`
	ScreenID  string `json:"screen_id,omitempty" validate:"max=128"`
}

// WebSocketHandler serves chat clients over websocket. Frames from one
// connection are handled in arrival order.
type WebSocketHandler struct {
	events         EventHandler
	hub            *Hub
	allowedOrigins []string
	isDev          bool
	validate       *validator.Validate
	logger         *slog.Logger
}

// NewWebSocketHandler creates a handler. It expects identity.Middleware to
// run first.
func NewWebSocketHandler(events EventHandler, hub *Hub, allowedOrigins []string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		events:         events,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	chatID := identity.ChatIDFromContext(r.Context())
	if chatID == 0 {
		chatID = userID
	}
	h.logger.Info("websocket connection request", "chat_id", chatID, "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err, "chat_id", chatID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr, "chat_id", chatID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.hub.Register(ctx, chatID, userID, ws)
	defer h.hub.Unregister(chatID, userID, ws)

	h.readLoop(ctx, ws, chatID, userID)
	h.logger.Info("websocket session ended", "chat_id", chatID, "user_id", userID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, chatID, userID int64) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("websocket closed by client", "chat_id", chatID)
			} else if ctx.Err() == nil {
				h.logger.Warn("websocket read error", "error", err, "chat_id", chatID)
			}
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			h.writeFrame(ctx, ws, Frame{Type: "error", Error: "invalid frame"})
			continue
		}
		if err := h.validate.Struct(in); err != nil {
			h.writeFrame(ctx, ws, Frame{Type: "error", Error: err.Error()})
			continue
		}

		switch in.Type {
		case "ping":
			h.writeFrame(ctx, ws, Frame{Type: "pong"})
		case "message":
			err = h.events.HandleMessage(ctx, Message{ChatID: chatID, UserID: userID, Text: in.Text, ScreenID: in.ScreenID})
		case "press":
			err = h.events.HandlePress(ctx, Press{ChatID: chatID, UserID: userID, Action: in.Action, MessageID: in.MessageID})
		}
		if err != nil {
			h.logger.Error("event handling failed", "type", in.Type, "chat_id", chatID, "error", err)
			h.writeFrame(ctx, ws, Frame{Type: "error", Error: "internal error"})
		}
	}
}

func (h *WebSocketHandler) writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) {
	if err := h.hub.write(ctx, ws, f); err != nil {
		h.logger.Debug("failed to write frame", "type", f.Type, "error", err)
	}
}
