//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatdesk/internal/extract"
	"github.com/ashureev/chatdesk/internal/intent"
	"github.com/ashureev/chatdesk/internal/transport"
)

type fakeEvents struct {
	mu       sync.Mutex
	messages []transport.Message
	presses  []transport.Press
	err      error
}

func (f *fakeEvents) HandleMessage(_ context.Context, m transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return f.err
}

func (f *fakeEvents) HandlePress(_ context.Context, p transport.Press) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presses = append(f.presses, p)
	return f.err
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, events *fakeEvents, ping pingFunc) http.Handler {
	t.Helper()
	rules, err := intent.DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() error = %v", err)
	}
	if ping == nil {
		ping = func(context.Context) error { return nil }
	}
	h := NewHandler(events, intent.NewClassifier(rules), extract.Default(), ping, nil)
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return r
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"message", `{"type":"message","chat_id":1,"user_id":2,"text":"мелиса"}`, http.StatusAccepted},
		{"press", `{"type":"press","chat_id":1,"user_id":2,"action":"oc|ok||t","message_id":9}`, http.StatusAccepted},
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown type", `{"type":"sticker","user_id":2}`, http.StatusUnprocessableEntity},
		{"missing user", `{"type":"message","text":"x"}`, http.StatusUnprocessableEntity},
		{"message without text", `{"type":"message","user_id":2}`, http.StatusUnprocessableEntity},
		{"press without action", `{"type":"press","user_id":2}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events := &fakeEvents{}
			router := newTestRouter(t, events, nil)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(tt.body)))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == http.StatusAccepted && len(events.messages)+len(events.presses) != 1 {
				t.Fatalf("events dispatched = %d, want 1", len(events.messages)+len(events.presses))
			}
		})
	}
}

func TestHandleEventPassesFields(t *testing.T) {
	t.Parallel()
	events := &fakeEvents{}
	router := newTestRouter(t, events, nil)

	body := `{"type":"press","chat_id":-5,"user_id":2,"action":"ui:card:orders|t","message_id":9}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body)))

	want := transport.Press{ChatID: -5, UserID: 2, Action: "ui:card:orders|t", MessageID: 9}
	if len(events.presses) != 1 || events.presses[0] != want {
		t.Fatalf("presses = %+v, want %+v", events.presses, want)
	}
}

func TestHandleEventDispatchError(t *testing.T) {
	t.Parallel()
	events := &fakeEvents{err: errors.New("boom")}
	router := newTestRouter(t, events, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"type":"message","user_id":2,"text":"x"}`)))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestHandleExplain(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, &fakeEvents{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/explain?text="+url.QueryEscape("три кастома мелиса"), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got ExplainResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Explanation.Result.Intent != intent.CreateOrders {
		t.Errorf("intent = %s, want %s", got.Explanation.Result.Intent, intent.CreateOrders)
	}
	if got.Extraction.Subject != "мелиса" || got.Extraction.FirstNumber() != 3 {
		t.Errorf("extraction = %+v", got.Extraction)
	}
	if len(got.Explanation.Trace) == 0 {
		t.Error("expected a rule trace")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/explain", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status without text = %d, want 400", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newTestRouter(t, &fakeEvents{}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", w.Code)
	}

	down := func(context.Context) error { return errors.New("connection refused") }
	w = httptest.NewRecorder()
	newTestRouter(t, &fakeEvents{}, down).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d, want 503", w.Code)
	}
}
