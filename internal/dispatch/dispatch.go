// Package dispatch routes inbound chat messages to global commands or the
// questionnaire and relays the replies.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ThauanSilva03/Resolve-ja/internal/dialogue"
	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
	"github.com/ThauanSilva03/Resolve-ja/internal/session"
	"github.com/ThauanSilva03/Resolve-ja/internal/transcript"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport"
)

const (
	sendTimeout   = 15 * time.Second
	recordTimeout = 10 * time.Second
)

// Recorder receives every completed complaint.
type Recorder interface {
	Record(ctx context.Context, c *domain.Complaint) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, c *domain.Complaint) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, c *domain.Complaint) error { return f(ctx, c) }

// Deps are the collaborators of a Dispatcher. Sessions, Machine and Sender
// are required.
type Deps struct {
	Sessions   *session.Store
	Machine    *dialogue.Machine
	Sender     transport.Sender
	Recorders  []Recorder
	Limiter    *RateLimiter
	Transcript transcript.Logger
	Logger     *slog.Logger
}

// Dispatcher is the top-level inbound message handler.
type Dispatcher struct {
	sessions   *session.Store
	machine    *dialogue.Machine
	sender     transport.Sender
	recorders  []Recorder
	limiter    *RateLimiter
	transcript transcript.Logger
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// New creates a dispatcher and registers it as the session expiry handler.
func New(d Deps) *Dispatcher {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Transcript == nil {
		d.Transcript = transcript.Nop{}
	}
	disp := &Dispatcher{
		sessions:   d.Sessions,
		machine:    d.Machine,
		sender:     d.Sender,
		recorders:  d.Recorders,
		limiter:    d.Limiter,
		transcript: d.Transcript,
		logger:     d.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	d.Sessions.SetExpireFunc(disp.onExpire)
	return disp
}

var _ transport.Handler = (*Dispatcher)(nil)

// Handle processes one inbound message. Messages for the same user are
// serialized; different users proceed in parallel.
func (d *Dispatcher) Handle(ctx context.Context, msg transport.Inbound) {
	if msg.IsGroup {
		d.logger.Debug("Ignoring group message", "from", msg.From)
		return
	}
	if msg.Channel == "" {
		msg.Channel, _, _ = transport.SplitAddress(msg.From)
	}
	if d.limiter != nil && !d.limiter.Allow(msg.From) {
		d.logger.Warn("Rate limit exceeded, dropping message", "user_id", msg.From)
		return
	}

	d.logMessage(msg.From, msg.Channel, transcript.DirectionInbound, msg.Body, map[string]any{
		"has_media": msg.HasMedia,
	})

	unlock := d.sessions.Lock(msg.From)
	defer unlock()

	in := dialogue.NewInput(msg.Body, msg.HasMedia, msg.Download)
	current, exists := d.sessions.Get(msg.From)

	switch {
	case isCancel(in.Lower):
		d.sessions.Delete(msg.From)
		d.logger.Info("Session cancelled by user", "user_id", msg.From, "had_session", exists)
		d.reply(ctx, msg, MsgCancelled)

	case isGreeting(in.Lower):
		if exists && current.Active() {
			return
		}
		d.reply(ctx, msg, MsgWelcome)

	case isStart(in.Lower):
		if _, err := d.sessions.Create(msg.From); err != nil {
			if errors.Is(err, session.ErrDuplicateSession) {
				d.reply(ctx, msg, MsgConflict)
				return
			}
			d.logger.Error("Failed to create session", "user_id", msg.From, "error", err)
			return
		}
		d.sessions.ResetIdleTimer(msg.From)
		d.reply(ctx, msg, dialogue.PromptIdentify)

	case exists:
		d.sessions.ResetIdleTimer(msg.From)
		before := current.Step
		out := d.machine.Handle(ctx, current, in)
		d.logger.Debug("Message handled", "user_id", msg.From, "step_before", int(before), "step", int(current.Step))
		if out.Reply != "" {
			d.reply(ctx, msg, out.Reply)
		}
		if out.Completed {
			d.record(ctx, msg.Channel, current)
		}

	default:
		d.reply(ctx, msg, MsgFallback)
	}
}

func (d *Dispatcher) reply(ctx context.Context, msg transport.Inbound, text string) {
	d.send(ctx, msg.From, msg.Channel, text)
}

// send delivers text. Failures are logged and never change session state.
func (d *Dispatcher) send(ctx context.Context, to, channel, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	d.logMessage(to, channel, transcript.DirectionOutbound, text, nil)
	if err := d.sender.Send(ctx, to, text); err != nil {
		d.logger.Error("Failed to send reply", "user_id", to, "error", err)
	}
}

func (d *Dispatcher) record(ctx context.Context, channel string, s *domain.Session) {
	complaint := domain.ComplaintFromSession(d.newID(), channel, s, d.now())
	d.logger.Info("Complaint completed",
		"user_id", s.UserID,
		"complaint_id", complaint.ID,
		"department", complaint.Department,
		"has_media", complaint.HasMedia(),
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	for _, r := range d.recorders {
		if err := r.Record(ctx, complaint); err != nil {
			d.logger.Error("Failed to record complaint", "complaint_id", complaint.ID, "error", err)
		}
	}
}

// onExpire runs on the idle timer goroutine with the session lock held.
func (d *Dispatcher) onExpire(userID string, s *domain.Session) {
	if !s.Active() {
		return
	}
	channel, _, _ := transport.SplitAddress(userID)
	d.send(context.Background(), userID, channel, IdleNotice(d.sessions.IdleTimeout()))
}

func (d *Dispatcher) logMessage(userID, channel, direction, content string, meta map[string]any) {
	eventType := "user_message"
	if direction == transcript.DirectionOutbound {
		eventType = "bot_reply"
	}
	d.transcript.Log(transcript.Event{
		Timestamp:  d.now().UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    transcript.Readable(strings.TrimSpace(content)),
		Meta:       meta,
	})
}
