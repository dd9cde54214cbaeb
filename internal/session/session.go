// Package session manages designer session lifecycle. A session is one open
// canvas: a designer loaded for a project plus the event fan-out the canvas
// connection listens on.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/designer"
	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/metrics"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Session holds per-canvas designer state.
type Session struct {
	ID        string             `json:"session_id"`
	ProjectID string             `json:"project_id"`
	CreatedAt time.Time          `json:"created_at"`
	Designer  *designer.Designer `json:"-"`
	Events    *event.Fanout      `json:"-"`

	mu           sync.Mutex
	lastActiveAt time.Time
	done         chan struct{}
	closeOnce    sync.Once
}

// Done is closed once the session has been removed or has expired. Its
// designer rejects every operation from then on.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.Designer.Close()
		close(s.done)
	})
}

// Touch updates the last activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActiveAt = now
	s.mu.Unlock()
}

// LastActiveAt returns when the session was last used.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
func (s *Session) IsIdle(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.LastActiveAt()) > timeout
}

// Opener builds a designer for a project that reports to rec. The designer
// is loaded by the manager.
type Opener func(projectID string, rec event.Recorder) (*designer.Designer, error)

// Option configures a Manager.
type Option func(*Manager)

// WithNow replaces the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPublisher forwards every session's events to p.
func WithPublisher(p event.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	open        Opener
	maxAge      time.Duration
	idleTimeout time.Duration
	now         func() time.Time
	publisher   event.Publisher
	logger      *zap.Logger
	cron        *cron.Cron
}

// NewManager creates a session manager with the given timeouts. A zero
// timeout disables that check.
func NewManager(open Opener, maxAge, idleTimeout time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessions:    make(map[string]*Session),
		open:        open,
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      logger.Named("session"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create opens and loads a designer for projectID and registers a session
// for it.
func (m *Manager) Create(ctx context.Context, projectID string) (*Session, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	fan := event.NewFanout()
	if m.publisher != nil {
		fan.SetPublisher(m.publisher)
	}
	d, err := m.open(projectID, fan)
	if err != nil {
		return nil, fmt.Errorf("open designer: %w", err)
	}
	if err := d.Load(ctx); err != nil {
		d.Close()
		return nil, err
	}

	now := m.now()
	s := &Session{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		CreatedAt:    now,
		Designer:     d,
		Events:       fan,
		lastActiveAt: now,
		done:         make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	m.logger.Info("session created", zap.String("session", s.ID), zap.String("project", projectID))
	return s, nil
}

// Get retrieves a session by ID and marks it active. Expired sessions are
// removed and reported as ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	if s.IsExpired(now, m.maxAge) || s.IsIdle(now, m.idleTimeout) {
		if m.Remove(id) {
			metrics.SessionsExpired.Inc()
		}
		return nil, ErrNotFound
	}
	s.Touch(now)
	return s, nil
}

// Remove closes and deletes a session. It reports whether the session
// existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	metrics.SessionsActive.Set(float64(n))
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes all expired and idle sessions and returns how many it
// removed.
func (m *Manager) Cleanup() int {
	now := m.now()
	var stale []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.IsExpired(now, m.maxAge) || s.IsIdle(now, m.idleTimeout) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range stale {
		s.close()
		metrics.SessionsExpired.Inc()
	}
	metrics.SessionsActive.Set(float64(n))
	if len(stale) > 0 {
		m.logger.Info("expired sessions removed", zap.Int("count", len(stale)), zap.Int("active", n))
	}
	return len(stale)
}

// StartCleanup runs Cleanup on a cron schedule such as "@every 5m".
func (m *Manager) StartCleanup(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { m.Cleanup() }); err != nil {
		return fmt.Errorf("schedule session cleanup %q: %w", schedule, err)
	}
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	c.Start()
	m.logger.Info("session cleanup scheduled", zap.String("schedule", schedule))
	return nil
}

// Close stops the cleanup schedule and closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, s := range all {
		s.close()
	}
	metrics.SessionsActive.Set(0)
}
