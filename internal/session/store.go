package session

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// DefaultTTL is the inactivity window after which a session expires.
const DefaultTTL = 30 * time.Minute

// Key addresses one user's conversation within one chat.
type Key struct {
	ChatID int64
	UserID int64
}

// String renders the key as "chat:user" for logs and map keys.
func (k Key) String() string {
	return strconv.FormatInt(k.ChatID, 10) + ":" + strconv.FormatInt(k.UserID, 10)
}

// Session is one user's conversation state within one chat.
type Session struct {
	Flow      Flow
	Step      Step
	Payload   Payload
	Token     string
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Store is the in-memory session store. Expired sessions are swept
// opportunistically on every read; StartSweeper adds a periodic sweep.
// It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[Key]*Session
	lastChat map[int64]int64 // user -> most recently seen chat with a live session
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a session store with the given inactivity TTL.
func NewStore(ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[Key]*Session),
		lastChat: make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the inactivity window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the session for key, or false when absent or expired.
func (s *Store) Get(key Key) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	s.lastChat[key.UserID] = key.ChatID
	return *sess, true
}

// GetByUser resolves a bare user id to the session of the user's most
// recently seen chat. Kept for call sites that do not carry the chat id;
// new code should use Get with a composite key.
func (s *Store) GetByUser(userID int64) (Session, Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	chatID, ok := s.lastChat[userID]
	if !ok {
		return Session{}, Key{}, false
	}
	key := Key{ChatID: chatID, UserID: userID}
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, key, false
	}
	return *sess, key, true
}

// Update applies fn to the existing session and stores the result. It
// returns false, without calling fn, when no live session exists.
func (s *Store) Update(key Key, fn func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	cur, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	next := *cur
	fn(&next)
	mustBeValid(next.Flow, next.Step)
	mustMatchPayload(next.Flow, next.Payload)
	s.touchLocked(key, &next)
	s.sessions[key] = &next
	return next, true
}

// Transition moves key into flow at step with payload, creating the session
// if needed. Entering a different flow drops the interaction token so the
// next render mints a fresh one; staying in the same flow keeps it.
// Undeclared flows or steps panic.
func (s *Store) Transition(key Key, flow Flow, step Step, payload Payload) Session {
	mustBeValid(flow, step)
	if payload == nil {
		panic(fmt.Sprintf("session: nil payload for flow %q", flow))
	}
	mustMatchPayload(flow, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	next := Session{Flow: flow, Step: step, Payload: payload}
	if cur, ok := s.sessions[key]; ok && cur.Flow == flow {
		next.Token = cur.Token
	}
	s.touchLocked(key, &next)
	s.sessions[key] = &next
	return next
}

// Advance moves an existing session to step within its current flow,
// replacing the payload. It returns false when no live session exists.
func (s *Store) Advance(key Key, step Step, payload Payload) (Session, bool) {
	return s.Update(key, func(sess *Session) {
		sess.Step = step
		sess.Payload = payload
	})
}

// Clear removes the session for key.
func (s *Store) Clear(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(key)
}

// Sweep removes expired sessions and returns their keys.
func (s *Store) Sweep() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.sessions)
}

// ensureToken returns the session's token, minting and storing one when
// the session has none. A session without one is created on the menu flow.
func (s *Store) ensureToken(key Key, mint func() string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &Session{Flow: FlowMenu, Step: StepMain, Payload: MenuPayload{}}
		s.sessions[key] = sess
	}
	if sess.Token == "" {
		sess.Token = mint()
	}
	s.touchLocked(key, sess)
	return sess.Token
}

func (s *Store) touchLocked(key Key, sess *Session) {
	now := s.now()
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	s.lastChat[key.UserID] = key.ChatID
}

func (s *Store) dropLocked(key Key) {
	delete(s.sessions, key)
	if s.lastChat[key.UserID] == key.ChatID {
		delete(s.lastChat, key.UserID)
	}
}

func (s *Store) sweepLocked() []Key {
	now := s.now()
	var expired []Key
	for k, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			s.dropLocked(k)
			expired = append(expired, k)
		}
	}
	return expired
}

func mustMatchPayload(flow Flow, payload Payload) {
	if payload != nil && payload.Flow() != flow {
		panic(fmt.Sprintf("session: payload for flow %q stored under flow %q", payload.Flow(), flow))
	}
}
