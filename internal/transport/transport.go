// Package transport defines the boundary between chat channels and the
// dispatcher.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
)

// Channel prefixes used in user identities.
const (
	ChannelWeb    = "web"
	ChannelBridge = "bridge"
)

// ErrUnknownChannel is returned when no sender is registered for an address.
var ErrUnknownChannel = errors.New("unknown channel")

// Inbound is one message received from a user.
type Inbound struct {
	// From is the channel-qualified user identity, e.g. "web:<uuid>".
	From     string
	Channel  string
	Body     string
	HasMedia bool
	IsGroup  bool
	// Download fetches the attachment. Nil when HasMedia is false.
	Download func(ctx context.Context) (*domain.Media, error)
}

// Sender delivers text to a user identity.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Handler consumes inbound messages.
type Handler interface {
	Handle(ctx context.Context, msg Inbound)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Inbound)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Inbound) { f(ctx, msg) }

// Address builds a channel-qualified identity.
func Address(channel, id string) string {
	return channel + ":" + id
}

// SplitAddress splits an identity built by Address.
func SplitAddress(addr string) (channel, id string, ok bool) {
	channel, id, ok = strings.Cut(addr, ":")
	if !ok || channel == "" || id == "" {
		return "", "", false
	}
	return channel, id, true
}

// Mux routes outbound messages to the sender registered for the address
// prefix.
type Mux struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewMux creates an empty multiplexer.
func NewMux() *Mux {
	return &Mux{senders: make(map[string]Sender)}
}

// Register binds channel to s, replacing any previous sender.
func (m *Mux) Register(channel string, s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[channel] = s
}

// Send implements Sender.
func (m *Mux) Send(ctx context.Context, to, text string) error {
	channel, _, ok := SplitAddress(to)
	if !ok {
		return fmt.Errorf("%w: malformed address %q", ErrUnknownChannel, to)
	}

	m.mu.RLock()
	s, ok := m.senders[channel]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return s.Send(ctx, to, text)
}
