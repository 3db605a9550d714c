// Package transport carries chat events in and replies out.
package transport

import (
	"context"
)

// Message is an inbound text message.
type Message struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
	// ScreenID optionally names the screen the client was showing.
	ScreenID string `json:"screen_id,omitempty"`
}

// Press is an inbound button press.
type Press struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
	// Action is the opaque action identifier, ending in the interaction token.
	Action string `json:"action"`
	// MessageID is the message that carried the pressed button.
	MessageID int64 `json:"message_id,omitempty"`
}

// Button is one interactive control.
type Button struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

// Reply is an outbound render.
type Reply struct {
	ChatID  int64      `json:"chat_id"`
	UserID  int64      `json:"user_id"`
	Text    string     `json:"text"`
	Buttons [][]Button `json:"buttons,omitempty"`
	// EditMessageID replaces an existing message instead of sending a new
	// one when non-zero.
	EditMessageID int64 `json:"edit_message_id,omitempty"`
}

// Sender delivers replies. It returns the id of the message shown.
type Sender interface {
	Send(ctx context.Context, r Reply) (int64, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, r Reply) (int64, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, r Reply) (int64, error) {
	return f(ctx, r)
}
