package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ashureev/chatdesk/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingDispatcher struct {
	mu      sync.Mutex
	texts   []string
	actions []string
}

func (d *countingDispatcher) HandleText(_ context.Context, m transport.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, m.Text)
	return nil
}

func (d *countingDispatcher) HandleAction(_ context.Context, p transport.Press) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, p.Action)
	return nil
}

type memLog struct {
	mu     sync.Mutex
	events []ConversationLogEvent
}

func (l *memLog) Log(e ConversationLogEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *memLog) Close() error { return nil }

func TestService_PassesEventsThrough(t *testing.T) {
	t.Parallel()
	d := &countingDispatcher{}
	log := &memLog{}
	s := NewService(d, Options{ConvLog: log, Channel: "websocket"})
	ctx := context.Background()

	if err := s.HandleMessage(ctx, transport.Message{ChatID: 1, UserID: 2, Text: "мелиса"}); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if err := s.HandlePress(ctx, transport.Press{ChatID: 1, UserID: 2, Action: "oc|ok||t"}); err != nil {
		t.Fatalf("HandlePress() error = %v", err)
	}

	if len(d.texts) != 1 || len(d.actions) != 1 {
		t.Fatalf("dispatcher saw %d texts and %d actions, want 1 and 1", len(d.texts), len(d.actions))
	}
	if len(log.events) != 2 {
		t.Fatalf("transcript has %d events, want 2", len(log.events))
	}
	first := log.events[0]
	if first.RequestID == "" || first.Channel != "websocket" || first.Direction != "inbound" {
		t.Fatalf("unexpected transcript event %+v", first)
	}
	if log.events[0].RequestID == log.events[1].RequestID {
		t.Fatal("request ids must differ per event")
	}
}

func TestService_RateLimitsPerUser(t *testing.T) {
	t.Parallel()
	d := &countingDispatcher{}
	var notices []transport.Reply
	sender := transport.SenderFunc(func(_ context.Context, r transport.Reply) (int64, error) {
		notices = append(notices, r)
		return 1, nil
	})
	s := NewService(d, Options{Limiter: NewRateLimiter(60, 2), Sender: sender})
	ctx := context.Background()

	for range 3 {
		_ = s.HandleMessage(ctx, transport.Message{ChatID: 1, UserID: 5, Text: "x"})
	}
	_ = s.HandleMessage(ctx, transport.Message{ChatID: 1, UserID: 6, Text: "y"})

	if len(d.texts) != 3 {
		t.Fatalf("dispatcher saw %d texts, want 3", len(d.texts))
	}
	if len(notices) != 1 || notices[0].Text != msgRateLimited || notices[0].UserID != 5 {
		t.Fatalf("notices = %+v, want one rate-limit notice for user 5", notices)
	}
}

func TestTranscriptSenderLogsReplies(t *testing.T) {
	t.Parallel()
	log := &memLog{}
	next := transport.SenderFunc(func(context.Context, transport.Reply) (int64, error) { return 42, nil })

	id, err := TranscriptSender(next, log).Send(context.Background(), transport.Reply{ChatID: 1, UserID: 2, Text: "done"})
	if err != nil || id != 42 {
		t.Fatalf("Send() = %d, %v", id, err)
	}
	if len(log.events) != 1 || log.events[0].Direction != "outbound" || log.events[0].ContentRaw != "done" {
		t.Fatalf("transcript = %+v", log.events)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	unlimited := NewRateLimiter(0, 0)
	for range 100 {
		if !unlimited.Allow(1) {
			t.Fatal("disabled limiter refused an event")
		}
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }

	if !rl.Allow(1) {
		t.Fatal("first event refused")
	}
	if rl.Allow(1) {
		t.Fatal("second event within the same second allowed")
	}
	now = now.Add(time.Second)
	if !rl.Allow(1) {
		t.Fatal("event after refill refused")
	}

	now = now.Add(time.Hour)
	if n := rl.Evict(); n != 1 || rl.tracked() != 0 {
		t.Fatalf("Evict() = %d, tracked = %d", n, rl.tracked())
	}
}

func TestRateLimiterRunStops(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(60, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	<-done
}
