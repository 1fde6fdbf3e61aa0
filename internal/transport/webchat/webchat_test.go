package webchat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ThauanSilva03/Resolve-ja/internal/identity"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport"
)

func startServer(t *testing.T, hub *Hub, inbound transport.Handler, maxMedia int) *httptest.Server {
	t.Helper()
	h := NewHandler(hub, inbound, Config{IsDev: true, MaxMediaBytes: maxMedia}, nil)
	srv := httptest.NewServer(identity.Middleware(true)(h))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f serverFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return f
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	froms := make(chan string, 1)
	echo := transport.HandlerFunc(func(ctx context.Context, msg transport.Inbound) {
		froms <- msg.From
		_ = hub.Send(ctx, msg.From, "eco: "+msg.Body)
	})
	conn := dial(t, startServer(t, hub, echo, 0))

	writeJSON(t, conn, clientFrame{Type: frameMessage, Text: "oi"})
	f := readFrame(t, conn)
	if f.Type != frameReply || f.Text != "eco: oi" {
		t.Fatalf("unexpected frame %+v", f)
	}

	from := <-froms
	channel, id, ok := transport.SplitAddress(from)
	if !ok || channel != transport.ChannelWeb || !identity.IsValidAnonID(id) {
		t.Fatalf("unexpected sender identity %q", from)
	}
}

func TestPingAndInvalidFrames(t *testing.T) {
	t.Parallel()

	conn := dial(t, startServer(t, NewHub(nil), transport.HandlerFunc(func(context.Context, transport.Inbound) {}), 0))

	writeJSON(t, conn, clientFrame{Type: framePing})
	if f := readFrame(t, conn); f.Type != framePong {
		t.Fatalf("expected pong, got %+v", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != frameError || f.Error != "invalid_frame" {
		t.Fatalf("expected invalid_frame, got %+v", f)
	}

	writeJSON(t, conn, clientFrame{Type: "resize"})
	if f := readFrame(t, conn); f.Type != frameError || f.Error != "unknown_frame_type" {
		t.Fatalf("expected unknown_frame_type, got %+v", f)
	}
}

func TestMediaDownload(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	h := transport.HandlerFunc(func(ctx context.Context, msg transport.Inbound) {
		if !msg.HasMedia {
			_ = hub.Send(ctx, msg.From, "sem mídia")
			return
		}
		m, err := msg.Download(ctx)
		if err != nil {
			_ = hub.Send(ctx, msg.From, "erro: "+err.Error())
			return
		}
		_ = hub.Send(ctx, msg.From, fmt.Sprintf("%s %s %d", m.MimeType, m.Filename, m.Size()))
	})
	conn := dial(t, startServer(t, hub, h, 8))

	writeJSON(t, conn, clientFrame{Type: frameMessage, Text: "foto"})
	if f := readFrame(t, conn); f.Text != "sem mídia" {
		t.Fatalf("unexpected %+v", f)
	}

	writeJSON(t, conn, clientFrame{Type: frameMessage, Media: &mediaFrame{
		Mime: "image/jpeg", Filename: "a.jpg", Data: base64.StdEncoding.EncodeToString([]byte("12345")),
	}})
	if f := readFrame(t, conn); f.Text != "image/jpeg a.jpg 5" {
		t.Fatalf("unexpected %+v", f)
	}

	writeJSON(t, conn, clientFrame{Type: frameMessage, Media: &mediaFrame{
		Mime: "image/jpeg", Data: base64.StdEncoding.EncodeToString([]byte("this is far too large")),
	}})
	if f := readFrame(t, conn); !strings.HasPrefix(f.Text, "erro: ") {
		t.Fatalf("expected size error, got %+v", f)
	}
}

func TestHubSendWithoutConnection(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	if err := hub.Send(context.Background(), "web:nobody", "x"); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
	if err := hub.Send(context.Background(), "bridge:123", "x"); !errors.Is(err, transport.ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	c1 := &websocket.Conn{}
	c2 := &websocket.Conn{}

	hub.Register("u", c1)
	hub.Register("u", c2)
	if hub.Connections("u") != 2 {
		t.Fatalf("expected 2 connections, got %d", hub.Connections("u"))
	}
	hub.Unregister("u", c1)
	hub.Unregister("u", c1)
	if hub.Connections("u") != 1 {
		t.Fatalf("expected 1 connection, got %d", hub.Connections("u"))
	}
	hub.Unregister("u", c2)
	if hub.Connections("u") != 0 {
		t.Fatal("expected no connections")
	}
}

func TestDecodeMedia(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\n0000")
	m, err := decodeMedia(mediaFrame{Data: base64.StdEncoding.EncodeToString(png)}, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if m.MimeType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %s", m.MimeType)
	}
	if _, err := decodeMedia(mediaFrame{Data: "@@@"}, 1024); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCheckOriginList(t *testing.T) {
	t.Parallel()

	h := NewHandler(NewHub(nil), nil, Config{AllowedOrigins: []string{"https://a.example", "https://b.example"}}, nil)
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://a.example", true},
		{"https://b.example", true},
		{"", true},
		{"https://evil.example", false},
		{"https://a.example, https://b.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(req); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
