package webchat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
	"github.com/ThauanSilva03/Resolve-ja/internal/identity"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport"
)

// DefaultMaxMediaBytes bounds a decoded attachment.
const DefaultMaxMediaBytes = 10 << 20

// Frame types.
const (
	frameMessage = "message"
	framePing    = "ping"
	framePong    = "pong"
	frameReply   = "reply"
	frameError   = "error"
)

var errMediaTooLarge = errors.New("media exceeds size limit")

type mediaFrame struct {
	Mime     string `json:"mime"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data"`
}

type clientFrame struct {
	Type  string      `json:"type"`
	Text  string      `json:"text,omitempty"`
	Media *mediaFrame `json:"media,omitempty"`
}

type serverFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler upgrades requests to WebSocket and feeds client messages to the
// inbound handler.
type Handler struct {
	hub            *Hub
	inbound        transport.Handler
	allowedOrigins []string
	isDev          bool
	maxMediaBytes  int
	logger         *slog.Logger
}

// Config configures a Handler.
type Config struct {
	// AllowedOrigins lists accepted Origin values; "*" accepts any.
	AllowedOrigins []string
	IsDev          bool
	MaxMediaBytes  int
}

// NewHandler creates a WebSocket handler.
func NewHandler(hub *Hub, inbound transport.Handler, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = DefaultMaxMediaBytes
	}
	return &Handler{
		hub:            hub,
		inbound:        inbound,
		allowedOrigins: cfg.AllowedOrigins,
		isDev:          cfg.IsDev,
		maxMediaBytes:  cfg.MaxMediaBytes,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	h.logger.Info("Web chat connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	// Base64 inflates by 4/3; leave room for the JSON envelope.
	ws.SetReadLimit(int64(h.maxMediaBytes)*4/3 + 64<<10)

	h.hub.Register(userID, ws)
	defer h.hub.Unregister(userID, ws)

	h.readLoop(r.Context(), ws, userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// readLoop handles frames in arrival order so one tab never races itself.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	from := transport.Address(transport.ChannelWeb, userID)
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.writeFrame(ctx, ws, serverFrame{Type: frameError, Error: "invalid_frame"})
			continue
		}

		switch frame.Type {
		case frameMessage:
			h.inbound.Handle(ctx, h.inboundFrom(from, frame))
		case framePing:
			h.writeFrame(ctx, ws, serverFrame{Type: framePong})
		default:
			h.writeFrame(ctx, ws, serverFrame{Type: frameError, Error: "unknown_frame_type"})
		}
	}
}

func (h *Handler) inboundFrom(from string, frame clientFrame) transport.Inbound {
	msg := transport.Inbound{
		From:    from,
		Channel: transport.ChannelWeb,
		Body:    frame.Text,
	}
	if frame.Media != nil && frame.Media.Data != "" {
		media := *frame.Media
		msg.HasMedia = true
		msg.Download = func(context.Context) (*domain.Media, error) {
			return decodeMedia(media, h.maxMediaBytes)
		}
	}
	return msg
}

func decodeMedia(m mediaFrame, maxBytes int) (*domain.Media, error) {
	if base64.StdEncoding.DecodedLen(len(m.Data)) > maxBytes+2 {
		return nil, errMediaTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	if len(data) > maxBytes {
		return nil, errMediaTooLarge
	}
	mime := m.Mime
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return &domain.Media{MimeType: mime, Filename: m.Filename, Data: data}, nil
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, f serverFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("Failed to marshal frame", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Failed to write frame", "type", f.Type, "error", err)
	}
}
