package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AgentFactory builds the agent handle for a new session.
type AgentFactory func(sessionID string) (Agent, error)

var newID = uuid.NewString

// Manager owns the live sessions, addressed by their token.
type Manager struct {
	factory AgentFactory
	opts    []Option
	base    options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager applies opts to every session it creates.
func NewManager(factory AgentFactory, opts ...Option) *Manager {
	return &Manager{
		factory:  factory,
		opts:     opts,
		base:     buildOptions(opts),
		sessions: map[string]*Session{},
	}
}

func (m *Manager) Create() (*Session, error) {
	id := newID()
	agent, err := m.factory(id)
	if err != nil {
		return nil, err
	}
	session := New(id, agent, m.opts...)

	m.mu.Lock()
	var evicted string
	if m.base.maxSessions > 0 && len(m.sessions) >= m.base.maxSessions {
		evicted = m.evictOldestLocked()
	}
	m.sessions[id] = session
	count := len(m.sessions)
	m.mu.Unlock()

	m.base.metrics.SetActiveSessions(count)
	if evicted != "" {
		m.base.logger.Info("session evicted", zap.String("session_id", evicted), zap.String("reason", "capacity"))
	}
	m.base.logger.Info("session created", zap.String("session_id", id))
	return session, nil
}

// evictOldestLocked drops the least recently used session that is not
// waiting on the agent. It returns the evicted id, or "" when every session
// is busy.
func (m *Manager) evictOldestLocked() string {
	var oldest *Session
	for _, candidate := range m.sessions {
		if candidate.State() == StatePending {
			continue
		}
		if oldest == nil || candidate.LastUsed().Before(oldest.LastUsed()) {
			oldest = candidate
		}
	}
	if oldest == nil {
		return ""
	}
	delete(m.sessions, oldest.ID())
	return oldest.ID()
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.touch()
	return session, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	m.base.metrics.SetActiveSessions(count)
	m.base.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than the configured TTL and returns
// how many were removed. Sessions waiting on the agent are kept.
func (m *Manager) Sweep() int {
	ttl := m.base.idleTTL
	if ttl <= 0 {
		return 0
	}
	cutoff := now().Add(-ttl)

	m.mu.Lock()
	var expired []string
	for id, session := range m.sessions {
		if session.State() == StatePending || !session.LastUsed().Before(cutoff) {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(expired) > 0 {
		m.base.metrics.SetActiveSessions(count)
		m.base.logger.Info("idle sessions evicted", zap.Strings("session_ids", expired), zap.Duration("idle_ttl", ttl))
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done. It returns
// immediately when no idle TTL is configured.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if m.base.idleTTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = m.base.idleTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
