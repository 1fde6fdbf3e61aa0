package transcript

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesPerUserNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		UserID:     "web:user-1",
		Channel:    "web",
		Direction:  DirectionInbound,
		EventType:  "message",
		ContentRaw: "buraco\n\tna   rua",
	})

	line := waitForLogLine(t, filepath.Join(dir, "web_user-1.ndjson"))
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "buraco\n\tna   rua" {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content != "buraco na rua" {
		t.Fatalf("unexpected Content: %q", got.Content)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be populated")
	}
}

func TestCloseFlushesQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 64}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		logger.Log(Event{UserID: "bridge:5569", Direction: DirectionOutbound, ContentRaw: "ok"})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "bridge_5569.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(strings.Split(strings.TrimSpace(string(data)), "\n")); n != 10 {
		t.Fatalf("expected 10 lines, got %d", n)
	}

	// Logging after Close is a no-op.
	logger.Log(Event{UserID: "bridge:5569"})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestDisabledIsNop(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := logger.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", logger)
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"web:abc-123":         "web_abc-123.ndjson",
		"bridge:5569999@c.us": "bridge_5569999@c.us.ndjson",
		"../../etc/passwd":    "_.._etc_passwd.ndjson",
		"":                    "unknown.ndjson",
	}
	for in, want := range tests {
		if got := FileName(in); got != want {
			t.Errorf("FileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			return lines[len(lines)-1]
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
