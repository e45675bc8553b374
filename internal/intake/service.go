package intake

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/phildougherty/medic/internal/metrics"
	"github.com/phildougherty/medic/internal/store"
)

// Service loads and saves sessions around Agent calls. Turns on the same
// session are serialized; different sessions run in parallel.
type Service struct {
	agent    *Agent
	sessions SessionStore
	metrics  *metrics.Collector
	logger   logr.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock lives in Service.locks only while some turn holds or waits on it.
type sessionLock struct {
	sync.Mutex
	refs int
}

func NewService(agent *Agent, sessions SessionStore, collector *metrics.Collector, logger logr.Logger) *Service {
	return &Service{
		agent:    agent,
		sessions: sessions,
		metrics:  collector,
		logger:   logger.WithName("sessions"),
		locks:    make(map[string]*sessionLock),
	}
}

func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Start opens a new call.
func (s *Service) Start(ctx context.Context, language string) (*Session, error) {
	session := NewSession(language)
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	s.refreshGauge(ctx)
	s.logger.Info("Call started", "session", session.ID, "language", session.Language)
	return session, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.sessions.Get(ctx, id)
}

func (s *Service) Text(ctx context.Context, id, text string) (*Session, Reply, error) {
	return s.turn(ctx, id, func(session *Session) (Reply, error) {
		return s.agent.HandleText(ctx, session, text)
	})
}

func (s *Service) Audio(ctx context.Context, id string, audio io.Reader, filename string) (*Session, Reply, error) {
	return s.turn(ctx, id, func(session *Session) (Reply, error) {
		return s.agent.HandleAudio(ctx, session, audio, filename)
	})
}

func (s *Service) turn(ctx context.Context, id string, fn func(*Session) (Reply, error)) (*Session, Reply, error) {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, Reply{}, err
	}
	reply, turnErr := fn(session)
	// Keep whatever the turn appended, even when the model call failed.
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, reply, err
	}
	return session, reply, turnErr
}

// End finishes the call and returns its report.
func (s *Service) End(ctx context.Context, id string) (*Session, *store.Report, error) {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	report, err := s.agent.EndCall(ctx, session)
	if err != nil {
		return session, nil, err
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return session, report, err
	}
	return session, report, nil
}

// Reap drops idle sessions.
func (s *Service) Reap(ctx context.Context, idle time.Duration) (int, error) {
	removed, err := s.sessions.Reap(ctx, idle)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		s.logger.Info("Reaped idle sessions", "count", removed, "idle", idle.String())
	}
	s.refreshGauge(ctx)
	return removed, nil
}

func (s *Service) refreshGauge(ctx context.Context) {
	if n, err := s.sessions.Count(ctx); err == nil {
		s.metrics.SetActiveSessions(n)
	}
}
