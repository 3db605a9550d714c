// Package identity resolves which chat and user an HTTP request speaks for,
// and who may use the bot at all.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

const (
	ChatHeaderName = "X-Chat-ID"
	UserHeaderName = "X-User-ID"
)

type contextKey int

const (
	chatIDKey contextKey = iota
	userIDKey
)

// ErrMissingUser is returned when a request names no user.
var ErrMissingUser = errors.New("user id is required")

// ChatIDFromContext extracts the chat ID from the request context. Zero
// means the client did not send one.
func ChatIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(chatIDKey).(int64); ok {
		return v
	}
	return 0
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(userIDKey).(int64); ok {
		return v
	}
	return 0
}

// WithIdentity returns ctx carrying chatID and userID.
func WithIdentity(ctx context.Context, chatID, userID int64) context.Context {
	ctx = context.WithValue(ctx, chatIDKey, chatID)
	return context.WithValue(ctx, userIDKey, userID)
}

func parseID(name, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return id, nil
}

func fromRequest(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

// FromRequest reads the chat and user IDs from headers, falling back to
// the chat_id and user_id query parameters. The chat ID is optional.
func FromRequest(r *http.Request) (chatID, userID int64, err error) {
	chatID, err = parseID("chat id", fromRequest(r, ChatHeaderName, "chat_id"))
	if err != nil {
		return 0, 0, err
	}
	userID, err = parseID("user id", fromRequest(r, UserHeaderName, "user_id"))
	if err != nil {
		return 0, 0, err
	}
	if userID == 0 {
		return 0, 0, ErrMissingUser
	}
	return chatID, userID, nil
}

// Middleware injects the request's chat and user identity.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatID, userID, err := FromRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), chatID, userID)))
	})
}

// Authorizer is a user allowlist. An empty list allows everyone.
type Authorizer struct {
	allowed map[int64]struct{}
}

// NewAuthorizer creates an allowlist of ids.
func NewAuthorizer(ids []int64) *Authorizer {
	a := &Authorizer{allowed: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		a.allowed[id] = struct{}{}
	}
	return a
}

// Allowed reports whether userID may use the bot.
func (a *Authorizer) Allowed(userID int64) bool {
	if len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[userID]
	return ok
}

// Open reports whether the allowlist is empty.
func (a *Authorizer) Open() bool {
	return len(a.allowed) == 0
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
