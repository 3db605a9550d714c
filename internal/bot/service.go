// Package bot is the transport-facing entry point of the router: it
// throttles, correlates and transcribes events before dispatching them.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/chatdesk/internal/metrics"
	"github.com/ashureev/chatdesk/internal/transport"
)

const msgRateLimited = "You are sending messages too fast. Please wait a moment."

// Dispatcher handles events once they are admitted.
type Dispatcher interface {
	HandleText(ctx context.Context, m transport.Message) error
	HandleAction(ctx context.Context, p transport.Press) error
}

// Service admits inbound events and passes them to the dispatcher.
type Service struct {
	dispatcher Dispatcher
	limiter    *RateLimiter
	convlog    ConversationLogger
	sender     transport.Sender
	channel    string
	logger     *slog.Logger
}

// Options configures a Service. Zero values disable the optional parts.
type Options struct {
	Limiter *RateLimiter
	ConvLog ConversationLogger
	// Sender receives throttling notices.
	Sender transport.Sender
	// Channel names the transport in the transcript.
	Channel string
	Logger  *slog.Logger
}

// NewService creates a Service.
func NewService(d Dispatcher, opts Options) *Service {
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(0, 0)
	}
	if opts.ConvLog == nil {
		opts.ConvLog = noopConversationLogger{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		dispatcher: d,
		limiter:    opts.Limiter,
		convlog:    opts.ConvLog,
		sender:     opts.Sender,
		channel:    opts.Channel,
		logger:     opts.Logger,
	}
}

// WithChannel returns a copy of s that tags transcript lines with channel.
func (s *Service) WithChannel(channel string) *Service {
	c := *s
	c.channel = channel
	return &c
}

// HandleMessage implements transport.EventHandler.
func (s *Service) HandleMessage(ctx context.Context, m transport.Message) error {
	requestID := uuid.NewString()
	logger := s.logger.With("request_id", requestID, "chat_id", m.ChatID, "user_id", m.UserID)
	if !s.admit(ctx, logger, m.ChatID, m.UserID) {
		return nil
	}

	s.convlog.Log(ConversationLogEvent{
		RequestID:  requestID,
		ChatID:     m.ChatID,
		UserID:     m.UserID,
		Channel:    s.channel,
		Direction:  "inbound",
		EventType:  "message",
		ContentRaw: m.Text,
	})

	start := time.Now()
	err := s.dispatcher.HandleText(ctx, m)
	logger.Debug("message handled", "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
	return err
}

// HandlePress implements transport.EventHandler.
func (s *Service) HandlePress(ctx context.Context, p transport.Press) error {
	requestID := uuid.NewString()
	logger := s.logger.With("request_id", requestID, "chat_id", p.ChatID, "user_id", p.UserID)
	if !s.admit(ctx, logger, p.ChatID, p.UserID) {
		return nil
	}

	s.convlog.Log(ConversationLogEvent{
		RequestID:  requestID,
		ChatID:     p.ChatID,
		UserID:     p.UserID,
		Channel:    s.channel,
		Direction:  "inbound",
		EventType:  "press",
		ContentRaw: p.Action,
	})

	start := time.Now()
	err := s.dispatcher.HandleAction(ctx, p)
	logger.Debug("press handled", "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
	return err
}

func (s *Service) admit(ctx context.Context, logger *slog.Logger, chatID, userID int64) bool {
	if s.limiter.Allow(userID) {
		return true
	}
	metrics.RecordRateLimited()
	logger.Warn("event rate limited")
	if s.sender != nil {
		if _, err := s.sender.Send(ctx, transport.Reply{ChatID: chatID, UserID: userID, Text: msgRateLimited}); err != nil {
			logger.Debug("failed to send rate limit notice", "error", err)
		}
	}
	return false
}

// TranscriptSender wraps a Sender so every reply lands in the transcript.
func TranscriptSender(next transport.Sender, convlog ConversationLogger) transport.Sender {
	return transport.SenderFunc(func(ctx context.Context, r transport.Reply) (int64, error) {
		id, err := next.Send(ctx, r)
		if err == nil {
			convlog.Log(ConversationLogEvent{
				ChatID:     r.ChatID,
				UserID:     r.UserID,
				Direction:  "outbound",
				EventType:  "reply",
				ContentRaw: r.Text,
			})
		}
		return id, err
	})
}
