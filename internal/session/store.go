// Package session keeps intake sessions in memory and expires idle ones.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
)

// DefaultIdleTimeout is used when the store is built with a non-positive window.
const DefaultIdleTimeout = 30 * time.Minute

// ErrDuplicateSession is returned by Create when the user already has an
// unfinished session.
var ErrDuplicateSession = errors.New("session already in progress")

// ExpireFunc is invoked after an idle session has been evicted. It runs
// with the session lock for userID held.
type ExpireFunc func(userID string, s *domain.Session)

type entry struct {
	session *domain.Session
	timer   *time.Timer
	gen     uint64
}

// Store is the sole owner of sessions and their idle timers.
//
// Callers that read or mutate a session must hold Lock(userID) for the
// duration. Lock order is always session lock first, then the store map.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	locks    *keyedMutex
	idle     time.Duration
	onExpire ExpireFunc
	seq      uint64
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithExpireFunc sets the callback run when an idle timer evicts a session.
func WithExpireFunc(fn ExpireFunc) Option {
	return func(s *Store) {
		s.onExpire = fn
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store with the given idle window.
func NewStore(idle time.Duration, opts ...Option) *Store {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	s := &Store{
		entries: make(map[string]*entry),
		locks:   newKeyedMutex(),
		idle:    idle,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IdleTimeout returns the inactivity window.
func (s *Store) IdleTimeout() time.Duration {
	return s.idle
}

// SetExpireFunc replaces the expiry callback. It must be called before any
// timer is armed.
func (s *Store) SetExpireFunc(fn ExpireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

// Lock serializes all work on userID's session and returns the unlock func.
func (s *Store) Lock(userID string) func() {
	return s.locks.Lock(userID)
}

// Create starts a fresh session at the identification step. A finished
// session for the same user is replaced; an unfinished one yields
// ErrDuplicateSession and is left untouched.
func (s *Store) Create(userID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[userID]; ok {
		if e.session.Active() {
			return nil, ErrDuplicateSession
		}
		stopTimer(e)
	}

	sess := domain.NewSession(userID, s.now())
	s.entries[userID] = &entry{session: sess}
	s.logger.Info("Session created", "user_id", userID)
	return sess, nil
}

// Get returns the user's session, if any.
func (s *Store) Get(userID string) (*domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Delete removes the session and cancels its idle timer. It reports whether
// a session existed.
func (s *Store) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return false
	}
	stopTimer(e)
	delete(s.entries, userID)
	s.logger.Info("Session deleted", "user_id", userID)
	return true
}

// ResetIdleTimer cancels any pending idle timer for userID and arms a new
// one. It reports false when the user has no session.
func (s *Store) ResetIdleTimer(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return false
	}
	stopTimer(e)

	s.seq++
	gen := s.seq
	e.gen = gen
	e.session.UpdatedAt = s.now()
	e.timer = time.AfterFunc(s.idle, func() {
		s.expire(userID, gen)
	})
	return true
}

// expire evicts userID's session if the timer that fired is still the
// current one. A timer that lost a race with Reset or Delete is a no-op.
func (s *Store) expire(userID string, gen uint64) {
	unlock := s.Lock(userID)
	defer unlock()

	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	delete(s.entries, userID)
	onExpire := s.onExpire
	s.mu.Unlock()

	s.logger.Info("Session expired", "user_id", userID, "step", int(e.session.Step), "idle_timeout", s.idle)
	if onExpire != nil {
		onExpire(userID, e.session)
	}
}

// Len returns the number of stored sessions, finished or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats reports the number of stored sessions and how many are unfinished.
func (s *Store) Stats() (total, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		total++
		if e.session.Active() {
			active++
		}
	}
	return total, active
}

// pendingTimers counts armed timers. Used by tests to check for leaks.
func (s *Store) pendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.timer != nil {
			n++
		}
	}
	return n
}

// Close stops every timer and drops all sessions.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		stopTimer(e)
		delete(s.entries, id)
	}
}

func stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// Invalidate a callback that already fired and is waiting for the lock.
	e.gen = 0
}
