package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/attempt"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/rbac"
)

// Registry maps attempt IDs to live sessions. Finalized sessions are
// dropped; an unfinalized attempt without a session is resumed on demand.
type Registry struct {
	backend Backend
	clock   Clock
	cfg     Config
	log     *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(backend Backend, clock Clock, cfg Config, log *logrus.Entry) *Registry {
	if clock == nil {
		clock = RealClock()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		backend:  backend,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		log:      log,
		sessions: map[string]*Session{},
	}
}

// Open returns the live session for a, creating and starting it if needed.
func (r *Registry) Open(ctx context.Context, p rbac.Principal, a attempt.Attempt) (*Session, error) {
	if a.UserID != p.ID {
		return nil, apperr.NotFound("attempt", a.ID)
	}
	if a.Finalized() {
		return nil, apperr.Conflict("attempt already submitted")
	}
	r.mu.Lock()
	if s, ok := r.sessions[a.ID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	s := New(a, p, a.Deadline().Sub(r.clock.Now()), r.backend, r.clock, r.cfg, r.log)
	s.onFinal = r.remove
	// started before it is visible, so lookups never see a Created session
	expired, err := s.start()
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[a.ID] = s
	r.mu.Unlock()

	if expired {
		// onFinal takes r.mu, so submit outside the lock
		s.submitExpired(ctx)
	}
	config.Log(ctx).WithField("attempt_id", a.ID).Info("session opened")
	return s, nil
}

// Get returns p's live session for attemptID, resuming it from storage
// when the process has none.
func (r *Registry) Get(ctx context.Context, p rbac.Principal, attemptID string) (*Session, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return nil, err
	}
	r.mu.Lock()
	s, ok := r.sessions[attemptID]
	r.mu.Unlock()
	if ok {
		if s.owner.ID != p.ID {
			return nil, apperr.NotFound("attempt", attemptID)
		}
		return s, nil
	}
	a, err := r.backend.Get(ctx, p, attemptID)
	if err != nil {
		return nil, err
	}
	return r.Open(ctx, p, a)
}

// Live returns the in-process session for attemptID without resuming one.
func (r *Registry) Live(attemptID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[attemptID]
	return s, ok
}

func (r *Registry) remove(attemptID string) {
	r.mu.Lock()
	delete(r.sessions, attemptID)
	r.mu.Unlock()
}

// Len counts live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// FlushAll persists pending answers of every live session and stops their
// timers. Used on shutdown.
func (r *Registry) FlushAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()
	for _, s := range all {
		if err := s.Flush(ctx); err != nil {
			r.log.WithError(err).WithField("attempt_id", s.attemptID).Warn("flush on shutdown failed")
		}
		s.Close()
	}
}
