package session

import (
	"context"
	"testing"
	"time"
)

func TestStartSweeper_DropsExpiredSessions(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewStore(time.Minute, WithClock(clock.Now))
	key := Key{ChatID: 3, UserID: 4}
	s.Transition(key, FlowMenu, StepMain, MenuPayload{})
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expired := make(chan Key, 1)
	StartSweeper(ctx, s, time.Millisecond, func(k Key) { expired <- k })

	select {
	case got := <-expired:
		if got != key {
			t.Fatalf("expired key = %v, want %v", got, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not expire the session")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after sweep, want 0", s.Len())
	}
}
