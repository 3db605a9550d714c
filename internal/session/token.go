package session

import (
	"crypto/rand"
)

// TokenLength is the length of an interaction token.
const TokenLength = 6

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Verdict is the result of checking a pressed control against the session.
type Verdict int

const (
	// VerdictOK means the supplied token matches the session's token.
	VerdictOK Verdict = iota
	// VerdictStale means the control belongs to an outdated render.
	VerdictStale
	// VerdictExempt means the action always runs regardless of token.
	VerdictExempt
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictStale:
		return "stale"
	case VerdictExempt:
		return "exempt"
	default:
		return "unknown"
	}
}

// DefaultExemptActions can always be pressed so a user is never locked on
// a stale screen.
var DefaultExemptActions = []string{"back", "cancel", "reset"}

// Guard hands out interaction tokens and validates them on presses.
type Guard struct {
	store  *Store
	exempt map[string]bool
	mint   func() string
}

// NewGuard creates a token guard over store. With no exempt actions given,
// DefaultExemptActions is used.
func NewGuard(store *Store, exempt ...string) *Guard {
	if len(exempt) == 0 {
		exempt = DefaultExemptActions
	}
	g := &Guard{
		store:  store,
		exempt: make(map[string]bool, len(exempt)),
		mint:   NewToken,
	}
	for _, a := range exempt {
		g.exempt[a] = true
	}
	return g
}

// ActiveToken returns the token to embed in controls rendered for key,
// reusing the session's token when it has one.
func (g *Guard) ActiveToken(key Key) string {
	return g.store.ensureToken(key, g.mint)
}

// IsExempt reports whether action bypasses the token check.
func (g *Guard) IsExempt(action string) bool {
	return g.exempt[action]
}

// Check validates a press of action carrying the supplied token.
func (g *Guard) Check(key Key, action, supplied string) Verdict {
	if g.IsExempt(action) {
		return VerdictExempt
	}
	var current string
	if sess, ok := g.store.Get(key); ok {
		current = sess.Token
	}
	if current != supplied {
		return VerdictStale
	}
	return VerdictOK
}

// NewToken returns a fresh random alphanumeric token.
func NewToken() string {
	buf := make([]byte, TokenLength)
	// crypto/rand.Read never returns an error since Go 1.24.
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
