package transport

import (
	"container/list"
	"sync"
	"time"
)

// Frame is one outbound websocket frame.
type Frame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id,omitempty"`
	Reply     *Reply `json:"reply,omitempty"`
	Error     string `json:"error,omitempty"`
	// Queued is set on frames replayed after a reconnect.
	Queued bool `json:"queued,omitempty"`
}

// Offline queue defaults.
const (
	DefaultQueueSize = 50
	DefaultQueueAge  = 24 * time.Hour
)

type queuedFrame struct {
	frame    Frame
	queuedAt time.Time
}

// OfflineQueue buffers frames for chats with no connected client. Each chat
// gets its own bounded list so one chat's burst cannot evict another's.
type OfflineQueue struct {
	mu      sync.Mutex
	queues  map[int64]*list.List
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// NewOfflineQueue creates a queue keeping at most maxSize frames per chat,
// none older than maxAge. Zero maxAge keeps frames until replayed.
func NewOfflineQueue(maxSize int, maxAge time.Duration) *OfflineQueue {
	if maxSize <= 0 {
		maxSize = DefaultQueueSize
	}
	return &OfflineQueue{
		queues:  make(map[int64]*list.List),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Enqueue adds f to chatID's queue, evicting the oldest frame past the bound.
func (q *OfflineQueue) Enqueue(chatID int64, f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[chatID]
	if !ok {
		l = list.New()
		q.queues[chatID] = l
	}
	f.Queued = true
	l.PushBack(queuedFrame{frame: f, queuedAt: q.now()})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Drain removes and returns chatID's frames, oldest first.
func (q *OfflineQueue) Drain(chatID int64) []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[chatID]
	if !ok {
		return nil
	}
	delete(q.queues, chatID)

	cutoff := time.Time{}
	if q.maxAge > 0 {
		cutoff = q.now().Add(-q.maxAge)
	}
	frames := make([]Frame, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		qf := e.Value.(queuedFrame)
		if qf.queuedAt.Before(cutoff) {
			continue
		}
		frames = append(frames, qf.frame)
	}
	return frames
}

// Len returns the number of frames queued for chatID.
func (q *OfflineQueue) Len(chatID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.queues[chatID]; ok {
		return l.Len()
	}
	return 0
}
