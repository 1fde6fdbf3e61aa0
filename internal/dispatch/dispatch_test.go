package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThauanSilva03/Resolve-ja/internal/classifier"
	"github.com/ThauanSilva03/Resolve-ja/internal/dialogue"
	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
	"github.com/ThauanSilva03/Resolve-ja/internal/session"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport"
)

type sentMessage struct {
	to   string
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
	ch   chan sentMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan sentMessage, 64)}
}

func (f *fakeSender) Send(_ context.Context, to, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	err := f.err
	f.mu.Unlock()
	select {
	case f.ch <- sentMessage{to: to, text: text}:
	default:
	}
	return err
}

func (f *fakeSender) last(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return f.sent[len(f.sent)-1].text
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRecorder struct {
	mu         sync.Mutex
	complaints []*domain.Complaint
	err        error
}

func (f *fakeRecorder) Record(_ context.Context, c *domain.Complaint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complaints = append(f.complaints, c)
	return f.err
}

type fixture struct {
	d        *Dispatcher
	sessions *session.Store
	sender   *fakeSender
	recorder *fakeRecorder
}

func newFixture(t *testing.T, idle time.Duration, c classifier.Classifier) *fixture {
	t.Helper()
	sessions := session.NewStore(idle)
	t.Cleanup(sessions.Close)
	sender := newFakeSender()
	rec := &fakeRecorder{}
	d := New(Deps{
		Sessions:  sessions,
		Machine:   dialogue.NewMachine(c, nil),
		Sender:    sender,
		Recorders: []Recorder{rec},
	})
	return &fixture{d: d, sessions: sessions, sender: sender, recorder: rec}
}

func (f *fixture) send(t *testing.T, from, body string) string {
	t.Helper()
	before := f.sender.count()
	f.d.Handle(context.Background(), transport.Inbound{From: from, Body: body})
	if f.sender.count() == before {
		return ""
	}
	return f.sender.last(t)
}

func staticClassifier(code string) classifier.Classifier {
	return classifier.Func(func(context.Context, string) (string, error) { return code, nil })
}

func TestEndToEndAnonymousComplaint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, staticClassifier("SEINFRA"))
	const user = "web:u1"

	steps := []struct {
		body string
		want string
		step domain.Step
	}{
		{"oi", MsgWelcome, -1},
		{"Começar", dialogue.PromptIdentify, domain.StepIdentify},
		{"não", dialogue.PromptAnonymous, domain.StepProblemType},
		{"buraco na rua", dialogue.PromptAskAddress, domain.StepAskAddress},
		{"não", dialogue.PromptDate, domain.StepDate},
		{"31/02/2025", dialogue.PromptDescription, domain.StepDescription},
		{"Buraco grande em frente à escola", dialogue.PromptAskMedia, domain.StepAskMedia},
		{"não", dialogue.PromptConfirm, domain.StepConfirm},
	}
	for _, st := range steps {
		if got := f.send(t, user, st.body); got != st.want {
			t.Fatalf("after %q: got reply %q, want %q", st.body, got, st.want)
		}
		if st.step < 0 {
			continue
		}
		s, ok := f.sessions.Get(user)
		if !ok || s.Step != st.step {
			t.Fatalf("after %q: expected step %d", st.body, st.step)
		}
	}

	summary := f.send(t, user, "não")
	for _, want := range []string{"*SEINFRA*", "Anônimo", "buraco na rua", "31/02/2025", "Buraco grande em frente à escola", dialogue.NotInformed} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
	s, _ := f.sessions.Get(user)
	if s.Step != domain.StepDone || s.Department != "SEINFRA" {
		t.Fatalf("unexpected final session: step=%d department=%q", s.Step, s.Department)
	}

	if len(f.recorder.complaints) != 1 {
		t.Fatalf("expected one recorded complaint, got %d", len(f.recorder.complaints))
	}
	c := f.recorder.complaints[0]
	if c.ID == "" || c.Channel != transport.ChannelWeb || c.Department != "SEINFRA" || c.Identified {
		t.Fatalf("unexpected complaint %+v", c)
	}

	// A finished session does not block a new greeting or a new start.
	if got := f.send(t, user, "oi"); got != MsgWelcome {
		t.Fatalf("greeting after completion: %q", got)
	}
	if got := f.send(t, user, "comecar"); got != dialogue.PromptIdentify {
		t.Fatalf("restart after completion: %q", got)
	}
}

func TestDuplicateStartKeepsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, nil)
	const user = "bridge:5569"

	f.send(t, user, "começar")
	f.send(t, user, "sim")
	if got := f.send(t, user, "começar"); got != MsgConflict {
		t.Fatalf("expected conflict, got %q", got)
	}
	s, _ := f.sessions.Get(user)
	if s.Step != domain.StepName {
		t.Fatalf("original session changed: step=%d", s.Step)
	}
}

func TestGreetingDuringActiveSessionIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, nil)
	const user = "web:u2"

	f.send(t, user, "começar")
	if got := f.send(t, user, "Bom dia"); got != "" {
		t.Fatalf("expected no reply, got %q", got)
	}
	s, _ := f.sessions.Get(user)
	if s.Step != domain.StepIdentify {
		t.Fatalf("greeting must not reach the questionnaire, step=%d", s.Step)
	}
}

func TestCancelFromAnyState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, nil)
	const user = "web:u3"

	if got := f.send(t, user, "cancelar"); got != MsgCancelled {
		t.Fatalf("cancel without session: %q", got)
	}

	f.send(t, user, "começar")
	f.send(t, user, "não")
	if got := f.send(t, user, "  CANCELAR "); got != MsgCancelled {
		t.Fatalf("cancel with session: %q", got)
	}
	if _, ok := f.sessions.Get(user); ok {
		t.Fatal("session should be deleted")
	}
	if got := f.send(t, user, "buraco"); got != MsgFallback {
		t.Fatalf("expected fallback after cancel, got %q", got)
	}
}

func TestGroupMessagesIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, nil)
	f.d.Handle(context.Background(), transport.Inbound{From: "bridge:123@g.us", Body: "oi", IsGroup: true})
	if f.sender.count() != 0 {
		t.Fatal("group message must not be answered")
	}
}

func TestFallbackWithoutSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, nil)
	if got := f.send(t, "web:u4", "quero reclamar"); got != MsgFallback {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestClassificationFailureIsRetriable(t *testing.T) {
	t.Parallel()

	var fail = true
	var mu sync.Mutex
	c := classifier.Func(func(context.Context, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return "", errors.New("down")
		}
		return "SEMUSA", nil
	})
	f := newFixture(t, time.Minute, c)
	const user = "web:u5"
	for _, body := range []string{"começar", "não", "saúde", "não", "01/01/2025", "sem médico", "não"} {
		f.send(t, user, body)
	}

	if got := f.send(t, user, "não"); got != dialogue.PromptClassifyFailed {
		t.Fatalf("expected failure reply, got %q", got)
	}
	if len(f.recorder.complaints) != 0 {
		t.Fatal("failed classification must not record")
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	if got := f.send(t, user, "não"); !strings.Contains(got, "*SEMUSA*") {
		t.Fatalf("expected summary on retry, got %q", got)
	}
	if len(f.recorder.complaints) != 1 {
		t.Fatalf("expected one complaint, got %d", len(f.recorder.complaints))
	}
}

func TestRecorderFailureDoesNotChangeReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, staticClassifier("SEMOB"))
	f.recorder.err = errors.New("disk full")
	const user = "web:u6"
	for _, body := range []string{"começar", "não", "obra", "não", "01/01/2025", "obra parada", "não"} {
		f.send(t, user, body)
	}
	if got := f.send(t, user, "não"); !strings.HasPrefix(got, "Sua demanda foi enviada para *SEMOB*") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestSendFailureKeepsState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, nil)
	f.sender.err = errors.New("socket closed")
	const user = "web:u7"

	f.send(t, user, "começar")
	f.send(t, user, "sim")
	s, ok := f.sessions.Get(user)
	if !ok || s.Step != domain.StepName {
		t.Fatalf("send failure must not affect state, step=%v", s)
	}
}

func TestIdleExpirySendsNotice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 50*time.Millisecond, nil)
	const user = "web:u8"
	f.send(t, user, "começar")
	<-f.sender.ch // start prompt

	select {
	case msg := <-f.sender.ch:
		if msg.to != user || msg.text != IdleNotice(50*time.Millisecond) {
			t.Fatalf("unexpected notice %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inactivity notice")
	}
	if _, ok := f.sessions.Get(user); ok {
		t.Fatal("expired session should be evicted")
	}
}

func TestIdleExpiryOfFinishedSessionIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 80*time.Millisecond, staticClassifier("SEMA"))
	const user = "web:u9"
	for _, body := range []string{"começar", "não", "árvore", "não", "01/01/2025", "árvore caída", "não", "não"} {
		f.send(t, user, body)
	}
	sent := f.sender.count()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.sessions.Get(user); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := f.sessions.Get(user); ok {
		t.Fatal("finished session should still expire")
	}
	if f.sender.count() != sent {
		t.Fatal("finished session must expire without notice")
	}
}

func TestRateLimitDropsFlood(t *testing.T) {
	t.Parallel()

	sessions := session.NewStore(time.Minute)
	defer sessions.Close()
	sender := newFakeSender()
	limiter := NewRateLimiter(3, time.Minute)
	defer limiter.Close()
	d := New(Deps{Sessions: sessions, Machine: dialogue.NewMachine(nil, nil), Sender: sender, Limiter: limiter})

	for i := 0; i < 5; i++ {
		d.Handle(context.Background(), transport.Inbound{From: "web:flood", Body: "oi"})
	}
	if sender.count() != 3 {
		t.Fatalf("expected 3 replies, got %d", sender.count())
	}
	d.Handle(context.Background(), transport.Inbound{From: "web:other", Body: "oi"})
	if sender.count() != 4 {
		t.Fatal("other senders must not be limited")
	}
}

func TestConcurrentUsers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Minute, staticClassifier("SEMUSB"))
	script := []string{"começar", "não", "lixo", "não", "01/01/2025", "lixo na rua", "não", "não"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for _, body := range script {
				f.d.Handle(context.Background(), transport.Inbound{From: user, Body: body})
			}
		}(fmt.Sprintf("web:c%d", i))
	}
	wg.Wait()

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	if len(f.recorder.complaints) != 20 {
		t.Fatalf("expected 20 complaints, got %d", len(f.recorder.complaints))
	}
	seen := map[string]bool{}
	for _, c := range f.recorder.complaints {
		if seen[c.ID] {
			t.Fatalf("duplicate complaint id %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Minute, "30 minutos"},
		{time.Minute, "1 minuto"},
		{90 * time.Minute, "1 hora e 30 minutos"},
		{2*time.Hour + time.Minute + 5*time.Second, "2 horas, 1 minuto e 5 segundos"},
		{45 * time.Second, "45 segundos"},
		{10 * time.Millisecond, "alguns instantes"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRateLimiterEvict(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Hour)
	defer rl.Close()
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("expected one allowed then blocked")
	}
	now = now.Add(2 * time.Hour)
	rl.evict()
	if rl.keys() != 0 {
		t.Fatalf("expected eviction, %d keys left", rl.keys())
	}
	if !rl.Allow("a") {
		t.Fatal("expected allow after window")
	}
}
