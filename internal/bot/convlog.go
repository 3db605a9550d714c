package bot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ConversationLogConfig configures the conversation transcript.
type ConversationLogConfig struct {
	Enabled bool
	// Dir holds one NDJSON file per chat and user: <dir>/<chat>/<user>.ndjson.
	Dir string
	// GlobalEnabled additionally appends every event to GlobalPath.
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one transcript line.
type ConversationLogEvent struct {
	Timestamp  time.Time `json:"ts"`
	RequestID  string    `json:"request_id,omitempty"`
	ChatID     int64     `json:"chat_id"`
	UserID     int64     `json:"user_id"`
	Channel    string    `json:"channel,omitempty"`
	Direction  string    `json:"direction"`
	EventType  string    `json:"event_type"`
	Intent     string    `json:"intent,omitempty"`
	Content    string    `json:"content"`
	ContentRaw string    `json:"content_raw"`
}

// ConversationLogger records transcript events without blocking callers.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NewConversationLogger returns a file-backed logger, or a no-op one when
// cfg is disabled.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Enabled {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("conversation log dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create conversation log dir: %w", err)
		}
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		files:  make(map[string]*os.File),
		logger: logger,
	}
	if cfg.GlobalEnabled {
		if cfg.GlobalPath == "" {
			return nil, fmt.Errorf("conversation log global path is required")
		}
		f, err := openAppend(cfg.GlobalPath)
		if err != nil {
			return nil, err
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

type fileConversationLogger struct {
	cfg    ConversationLogConfig
	queue  chan ConversationLogEvent
	files  map[string]*os.File
	global *os.File
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Log enqueues event. When the queue is full the event is dropped.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Content = cleanForReadability(event.ContentRaw)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event", "chat_id", event.ChatID, "event_type", event.EventType)
	}
}

// Close flushes queued events and closes every file.
func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.global != nil {
		if err := l.global.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled {
			if err := l.writeChat(event, line); err != nil {
				l.logger.Warn("failed to write conversation log", "chat_id", event.ChatID, "error", err)
			}
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *fileConversationLogger) writeChat(event ConversationLogEvent, line []byte) error {
	path := filepath.Join(l.cfg.Dir, strconv.FormatInt(event.ChatID, 10), strconv.FormatInt(event.UserID, 10)+".ndjson")
	f, ok := l.files[path]
	if !ok {
		var err error
		if f, err = openAppend(path); err != nil {
			return err
		}
		l.files[path] = f
	}
	_, err := f.Write(line)
	return err
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // path is built from configuration and numeric ids
	if err != nil {
		return nil, fmt.Errorf("open conversation log %s: %w", path, err)
	}
	return f, nil
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

// cleanForReadability strips terminal escape sequences and control
// characters other than newlines and tabs.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
