package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"estados/internal/domain/status"
	"estados/internal/events"
	"estados/internal/repository"
	"estados/internal/viewer"
	estados_errors "estados/pkg/errors"
	"estados/pkg/logger"
)

type SessionConfig struct {
	View     ViewCacheConfig
	Reaction ReactionCacheConfig
	Viewer   viewer.Config
	IdleTTL  time.Duration
}

// Session is the per-viewer core: both caches and the viewer, fed by the
// change feed for as long as the viewer is signed in.
type Session struct {
	ViewerID  uuid.UUID
	Views     *ViewCache
	Reactions *ReactionCache
	Viewer    *viewer.Viewer

	lastUsed time.Time
	cancel   context.CancelFunc
	unsubs   []func()
	dispatch sync.WaitGroup
	once     sync.Once
}

// close tears the session down: pending views are flushed and queued reaction
// writes land before the caches are cleared.
func (s *Session) close(ctx context.Context) {
	s.once.Do(func() {
		s.Viewer.Close()
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.cancel()
		s.dispatch.Wait()

		s.Views.Close(ctx)
		s.Reactions.Close()
		s.Views.Clear()
		s.Reactions.Clear()
	})
}

// SessionManager owns one Session per signed-in viewer.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	views     repository.ViewRepository
	reactions repository.ReactionRepository
	profiles  repository.ProfileRepository
	feed      events.Feed
	cfg       SessionConfig
	clock     clock.Clock
	logger    *logger.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewSessionManager builds a manager. feed may be nil, in which case sessions
// only see their own writes.
func NewSessionManager(views repository.ViewRepository, reactions repository.ReactionRepository, profiles repository.ProfileRepository, feed events.Feed, cfg SessionConfig, clk clock.Clock, log *logger.Logger) *SessionManager {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SessionManager{
		sessions:  make(map[uuid.UUID]*Session),
		views:     views,
		reactions: reactions,
		profiles:  profiles,
		feed:      feed,
		cfg:       cfg,
		clock:     clk,
		logger:    log.Named("sessions"),
	}
}

// Get returns the viewer's session, creating it on first use.
func (m *SessionManager) Get(ctx context.Context, viewerID uuid.UUID) (*Session, error) {
	if viewerID == uuid.Nil {
		return nil, estados_errors.ErrUnauthorized
	}
	if s := m.lookup(viewerID); s != nil {
		return s, nil
	}

	created := m.open(ctx, viewerID)

	m.mu.Lock()
	if existing, ok := m.sessions[viewerID]; ok {
		existing.lastUsed = m.clock.Now()
		m.mu.Unlock()
		created.close(ctx)
		return existing, nil
	}
	created.lastUsed = m.clock.Now()
	m.sessions[viewerID] = created
	m.mu.Unlock()

	m.logger.WithContext(ctx).Info("session opened", zap.String("viewer_id", viewerID.String()))
	return created, nil
}

// Peek returns the viewer's session without creating one.
func (m *SessionManager) Peek(viewerID uuid.UUID) (*Session, bool) {
	s := m.lookup(viewerID)
	return s, s != nil
}

func (m *SessionManager) lookup(viewerID uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[viewerID]
	if !ok {
		return nil
	}
	s.lastUsed = m.clock.Now()
	return s
}

func (m *SessionManager) open(ctx context.Context, viewerID uuid.UUID) *Session {
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{ViewerID: viewerID, cancel: cancel}
	s.Views = NewViewCache(sessCtx, m.views, m.cfg.View, m.clock, m.logger)
	s.Reactions = NewReactionCache(sessCtx, m.reactions, Reactor{ID: viewerID, Name: m.displayName(ctx, viewerID)}, m.cfg.Reaction, m.clock, m.logger)
	views := s.Views
	s.Viewer = viewer.New(m.cfg.Viewer, m.clock, func(st status.Status) {
		views.RecordView(st.ID, viewerID)
	})

	m.subscribe(sessCtx, s, events.TableViews, s.Views.HandleChange)
	m.subscribe(sessCtx, s, events.TableReactions, s.Reactions.HandleChange)
	return s
}

func (m *SessionManager) subscribe(ctx context.Context, s *Session, table events.Table, handle func(context.Context, events.ChangeEvent)) {
	if m.feed == nil {
		return
	}
	ch, unsub, err := m.feed.Subscribe(ctx, table, events.AnyEstado)
	if err != nil {
		m.logger.WithContext(ctx).Warn("subscribe change feed",
			zap.String("viewer_id", s.ViewerID.String()),
			zap.String("table", string(table)),
			zap.Error(err),
		)
		return
	}
	s.unsubs = append(s.unsubs, unsub)
	s.dispatch.Add(1)
	go func() {
		defer s.dispatch.Done()
		for ev := range ch {
			handle(ctx, ev)
		}
	}()
}

// displayName is best effort; reactions show no name for the owner without it.
func (m *SessionManager) displayName(ctx context.Context, viewerID uuid.UUID) string {
	if m.profiles == nil {
		return ""
	}
	profiles, err := m.profiles.GetByIDs(ctx, []uuid.UUID{viewerID})
	if err != nil {
		m.logger.WithContext(ctx).Warn("load viewer profile", zap.String("viewer_id", viewerID.String()), zap.Error(err))
		return ""
	}
	return profiles[viewerID].DisplayName
}

// SignOut disposes the viewer's session. It reports whether one existed.
func (m *SessionManager) SignOut(ctx context.Context, viewerID uuid.UUID) bool {
	m.mu.Lock()
	s, ok := m.sessions[viewerID]
	delete(m.sessions, viewerID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.close(ctx)
	m.logger.WithContext(ctx).Info("session closed", zap.String("viewer_id", viewerID.String()))
	return true
}

// EvictIdle disposes sessions unused for IdleTTL and returns how many it closed.
func (m *SessionManager) EvictIdle(ctx context.Context) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	now := m.clock.Now()

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if now.Sub(s.lastUsed) >= m.cfg.IdleTTL {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close(ctx)
		m.logger.WithContext(ctx).Debug("session evicted", zap.String("viewer_id", s.ViewerID.String()))
	}
	return len(idle)
}

// Len reports the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start begins the idle eviction loop.
func (m *SessionManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.cfg.IdleTTL <= 0 {
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	interval := max(m.cfg.IdleTTL/4, time.Second)
	m.wg.Add(1)
	go m.run(interval, m.stopChan)
}

func (m *SessionManager) run(interval time.Duration, stop chan struct{}) {
	defer m.wg.Done()
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.EvictIdle(context.Background())
		}
	}
}

// Stop ends the eviction loop and disposes every session.
func (m *SessionManager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.running = false
		close(m.stopChan)
	}
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	for _, s := range all {
		s.close(ctx)
	}
}
