// Package api provides the HTTP surface of the router.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ashureev/chatdesk/internal/extract"
	"github.com/ashureev/chatdesk/internal/intent"
	"github.com/ashureev/chatdesk/internal/transport"
)

// maxRequestBodySize bounds webhook bodies.
const maxRequestBodySize = 1 << 20

// Pinger reports whether the document store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the webhook, explain and health endpoints.
type Handler struct {
	events     transport.EventHandler
	classifier *intent.Classifier
	extractor  *extract.Extractor
	store      Pinger
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(events transport.EventHandler, classifier *intent.Classifier, extractor *extract.Extractor, store Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		events:     events,
		classifier: classifier,
		extractor:  extractor,
		store:      store,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}
}

// RegisterRoutes mounts the handler's routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.HandleEvent)
	r.Get("/explain", h.HandleExplain)
	r.Get("/health", h.HandleHealth)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// EventRequest is a webhook event.
type EventRequest struct {
	Type      string `json:"type" validate:"required,oneof=message press"`
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id" validate:"required"`
	Text      string `json:"text" validate:"required_if=Type message,max=4096"`
	Action    string `json:"action" validate:"required_if=Type press,max=256"`
	MessageID int64  `json:"message_id" validate:"gte=0"`
}

// HandleEvent accepts one chat event and dispatches it synchronously.
// Replies go out through the configured sender.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var err error
	switch req.Type {
	case "message":
		err = h.events.HandleMessage(r.Context(), transport.Message{ChatID: req.ChatID, UserID: req.UserID, Text: req.Text})
	case "press":
		err = h.events.HandlePress(r.Context(), transport.Press{ChatID: req.ChatID, UserID: req.UserID, Action: req.Action, MessageID: req.MessageID})
	}
	if err != nil {
		h.logger.Error("webhook event failed", "type", req.Type, "chat_id", req.ChatID, "user_id", req.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "event handling failed")
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ExplainResponse shows how a text would be understood.
type ExplainResponse struct {
	Extraction  extract.Result     `json:"extraction"`
	Explanation intent.Explanation `json:"explanation"`
}

// HandleExplain classifies ?text= without touching any session.
func (h *Handler) HandleExplain(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	ex := h.extractor.Extract(text)
	JSON(w, http.StatusOK, ExplainResponse{
		Extraction:  ex,
		Explanation: h.classifier.Explain(text, intent.Hints{HasSubject: ex.HasSubject(), HasNumber: ex.HasNumber()}),
	})
}

// HandleHealth reports the document store's reachability.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
