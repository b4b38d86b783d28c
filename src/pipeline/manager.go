package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/providers"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
	"github.com/square-key-labs/strawgo-bridge/src/transports"
)

// Manager creates a CallSession per carrier socket and tracks live sessions.
type Manager struct {
	cfg      SessionConfig
	factory  providers.Factory
	registry *stats.Registry
	now      func() time.Time
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*CallSession
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock used for turn timing.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. Sessions report to registry when it is non-nil.
func NewManager(cfg SessionConfig, factory providers.Factory, registry *stats.Registry, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		registry: registry,
		now:      time.Now,
		log:      logger.WithPrefix("Sessions"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*CallSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ServeMedia runs one call on conn and returns once it has been cleaned up.
func (m *Manager) ServeMedia(ctx context.Context, conn transports.MediaConn) {
	sctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s := newCallSession(uuid.New().String(), m.cfg, conn, m.factory)
	s.now = m.now
	s.onClosed = m.remove

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		m.log.Warn("Shutting down, refusing media socket from %s", conn.RemoteAddr())
		conn.Close()
		return
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()
	if m.registry != nil {
		m.registry.Register(s.id, s)
	}

	s.Run(sctx)
}

func (m *Manager) remove(s *CallSession) {
	if m.registry != nil {
		m.registry.Unregister(s.id)
	}
	m.mu.Lock()
	if _, ok := m.sessions[s.id]; ok {
		delete(m.sessions, s.id)
		m.wg.Done()
	}
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions returns the live sessions.
func (m *Manager) Sessions() []*CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CallSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown ends every live call and waits for their cleanup or ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	n := len(m.sessions)
	m.cancel()
	m.mu.Unlock()
	m.log.Info("Shutting down %d sessions", n)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
