package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zakki0925224/aident/internal/models"
)

const sweepInterval = time.Minute

// Store is the persistence a Manager restores sessions from.
type Store interface {
	Recorder
	LoadSession(ctx context.Context, sessionID string) ([]models.Conversation, error)
}

// Manager hands out one Session per browser session and forgets idle ones.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	client ModelClient
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
	opts   []Option
}

// NewManager creates a Manager. store may be nil for memory-only operation;
// ttl <= 0 disables eviction. opts are applied to every new Session.
func NewManager(client ModelClient, store Store, ttl time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		client:   client,
		store:    store,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "sessions")),
	}
	m.opts = append([]Option{WithLogger(logger)}, opts...)
	if store != nil {
		m.opts = append(m.opts, WithRecorder(store))
	}
	return m
}

// Get returns the session for sid, creating it on first use. A new session
// restores persisted conversations for sid and then starts a fresh chat.
func (m *Manager) Get(ctx context.Context, sid string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sid]; ok {
		return s, nil
	}

	s := NewSession(sid, m.client, m.opts...)
	if m.store != nil {
		convs, err := m.store.LoadSession(ctx, sid)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		for _, c := range convs {
			s.restore(c)
		}
		if len(convs) > 0 {
			m.logger.Debug("session restored",
				zap.String("session_id", sid),
				zap.Int("conversations", len(convs)))
		}
	}
	s.CreateConversation()
	m.sessions[sid] = s
	return s, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run evicts idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				m.logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (m *Manager) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for sid, s := range m.sessions {
		// a session waiting on the model keeps its reply slot alive
		if s.resolving() {
			continue
		}
		if now.Sub(s.LastUsed()) > m.ttl {
			delete(m.sessions, sid)
			evicted++
		}
	}
	return evicted
}
