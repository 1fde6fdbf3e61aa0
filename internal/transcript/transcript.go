// Package transcript writes an append-only NDJSON log of every message
// exchanged with a user.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

// Directions of a logged message, seen from the service.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const defaultQueueSize = 256

// Config controls the transcript logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one line of a transcript file.
type Event struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records transcript events. Log never blocks the caller.
type Logger interface {
	Log(event Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Event) {}

// Close implements Logger.
func (Nop) Close() error { return nil }

type fileLogger struct {
	dir     string
	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	logger  *slog.Logger
}

// New returns a logger writing one file per user under cfg.Dir, or Nop
// when disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript directory is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	l := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

func (l *fileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = Readable(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		n := l.dropped.Add(1)
		l.logger.Warn("Transcript queue full, dropping event", "user_id", event.UserID, "dropped_total", n)
	}
}

func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("Failed to write transcript event", "user_id", event.UserID, "error", err)
		}
	}
}

func (l *fileLogger) write(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path(event.UserID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Close()
}

func (l *fileLogger) path(userID string) string {
	return filepath.Join(l.dir, FileName(userID))
}

// FileName maps a user identity to a safe transcript file name.
func FileName(userID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '.', r == '@':
			return r
		}
		return '_'
	}, userID)
	name = strings.Trim(name, ".")
	if name == "" {
		name = "unknown"
	}
	return name + ".ndjson"
}

// Readable collapses control characters and runs of whitespace so a
// transcript can be read without a JSON viewer.
func Readable(raw string) string {
	var b strings.Builder
	space := false
	for _, r := range raw {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}
