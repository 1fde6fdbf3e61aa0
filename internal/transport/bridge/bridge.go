// Package bridge connects an external messaging gateway (for example a
// WhatsApp bridge) over plain HTTP.
//
// The gateway POSTs inbound messages to ServeHTTP and receives replies as
// POSTs to its own send URL.
package bridge

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport"
)

// SecretHeader carries the shared secret in both directions.
const SecretHeader = "X-Bridge-Secret"

const (
	defaultMaxRequestBodySize = 1 << 20
	defaultMaxMediaBytes      = 10 << 20
	defaultTimeout            = 15 * time.Second
)

var (
	errMediaTooLarge     = errors.New("media exceeds size limit")
	errMediaHostRejected = errors.New("media host not allowed")
	errNoSendURL         = errors.New("bridge send url not configured")
)

// Config holds bridge configuration. Media is only fetched from the host
// of SendURL and from MediaHosts ("host" or "host:port").
type Config struct {
	SendURL       string
	Secret        string
	MediaHosts    []string
	MaxMediaBytes int64
	Timeout       time.Duration
}

// Bridge is both the inbound HTTP endpoint and the outbound Sender.
type Bridge struct {
	cfg        Config
	client     *http.Client
	mediaHosts map[string]struct{}
	inbound    transport.Handler
	logger     *slog.Logger
}

var _ transport.Sender = (*Bridge)(nil)

// New creates a bridge. inbound may be set later with SetHandler.
func New(cfg Config, inbound transport.Handler, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = defaultMaxMediaBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	b := &Bridge{
		cfg:        cfg,
		mediaHosts: mediaHostSet(cfg),
		inbound:    inbound,
		logger:     logger,
	}
	b.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			if !b.mediaAllowed(req.URL) {
				return fmt.Errorf("%w: redirect to %s", errMediaHostRejected, req.URL.Host)
			}
			return nil
		},
	}
	return b
}

func mediaHostSet(cfg Config) map[string]struct{} {
	hosts := make(map[string]struct{})
	if u, err := url.Parse(cfg.SendURL); err == nil && u.Host != "" {
		hosts[strings.ToLower(u.Host)] = struct{}{}
	}
	for _, h := range cfg.MediaHosts {
		h = strings.TrimSpace(h)
		if strings.Contains(h, "://") {
			if u, err := url.Parse(h); err == nil {
				h = u.Host
			}
		}
		if h != "" {
			hosts[strings.ToLower(h)] = struct{}{}
		}
	}
	return hosts
}

// mediaAllowed reports whether u is an http(s) URL on an allowed host.
func (b *Bridge) mediaAllowed(u *url.URL) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	_, ok := b.mediaHosts[strings.ToLower(u.Host)]
	return ok
}

// SetHandler sets the inbound handler.
func (b *Bridge) SetHandler(h transport.Handler) {
	b.inbound = h
}

type inboundPayload struct {
	From          string `json:"from"`
	Body          string `json:"body"`
	IsGroup       bool   `json:"is_group"`
	MediaURL      string `json:"media_url,omitempty"`
	MediaMime     string `json:"media_mime,omitempty"`
	MediaFilename string `json:"media_filename,omitempty"`
}

type outboundPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// ServeHTTP handles POST /bridge/messages. The message is processed before
// the response is written, so a gateway posting sequentially keeps order.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !b.authorized(r) {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var p inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	p.From = strings.TrimSpace(p.From)
	if p.From == "" {
		http.Error(w, `{"error": "from is required"}`, http.StatusBadRequest)
		return
	}
	if b.inbound == nil {
		http.Error(w, `{"error": "not ready"}`, http.StatusServiceUnavailable)
		return
	}

	b.inbound.Handle(r.Context(), b.toInbound(p))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, `{"status":"accepted"}`)
}

func (b *Bridge) authorized(r *http.Request) bool {
	if b.cfg.Secret == "" {
		return true
	}
	got := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(b.cfg.Secret)) == 1
}

func (b *Bridge) toInbound(p inboundPayload) transport.Inbound {
	msg := transport.Inbound{
		From:    transport.Address(transport.ChannelBridge, p.From),
		Channel: transport.ChannelBridge,
		Body:    p.Body,
		IsGroup: p.IsGroup,
	}
	if p.MediaURL != "" {
		msg.HasMedia = true
		msg.Download = func(ctx context.Context) (*domain.Media, error) {
			return b.download(ctx, p.MediaURL, p.MediaMime, p.MediaFilename)
		}
	}
	return msg
}

func (b *Bridge) download(ctx context.Context, mediaURL, mimeType, filename string) (*domain.Media, error) {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return nil, fmt.Errorf("parse media url: %w", err)
	}
	if !b.mediaAllowed(u) {
		return nil, fmt.Errorf("%w: %s", errMediaHostRejected, u.Host)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	if b.cfg.Secret != "" {
		req.Header.Set(SecretHeader, b.cfg.Secret)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > b.cfg.MaxMediaBytes {
		return nil, errMediaTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.cfg.MaxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > b.cfg.MaxMediaBytes {
		return nil, errMediaTooLarge
	}

	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	} else {
		mimeType = http.DetectContentType(data)
	}
	if filename == "" {
		filename = path.Base(req.URL.Path)
	}
	return &domain.Media{MimeType: mimeType, Filename: filename, Data: data}, nil
}

// Send implements transport.Sender by posting to the gateway.
func (b *Bridge) Send(ctx context.Context, to, text string) error {
	if b.cfg.SendURL == "" {
		return errNoSendURL
	}
	channel, id, ok := transport.SplitAddress(to)
	if !ok || channel != transport.ChannelBridge {
		return fmt.Errorf("%w: %q", transport.ErrUnknownChannel, to)
	}

	body, err := json.Marshal(outboundPayload{To: id, Body: text})
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.SendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.Secret != "" {
		req.Header.Set(SecretHeader, b.cfg.Secret)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send to gateway: unexpected status %d", resp.StatusCode)
	}
	return nil
}
