// Package session maps client session ids to their own authentication gate, local cart
// and synchronizer.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/auth"
	"github.com/fjod/go_cart/cartsync/internal/synchronizer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("session registry closed")

type Config struct {
	IdleTTL         time.Duration `yaml:"idle_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

func DefaultConfig() Config {
	return Config{IdleTTL: 30 * time.Minute, CleanupInterval: time.Minute}
}

// Factory builds the synchronizer of a new session around its gate.
type Factory func(gate *auth.Gate) *synchronizer.Synchronizer

type Session struct {
	ID   string
	Gate *auth.Gate
	Sync *synchronizer.Synchronizer

	lastSeen time.Time
}

// Registry holds live sessions and expires idle ones in the background.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	newSync Factory
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

func NewRegistry(factory Factory, cfg Config, logger *zap.Logger) *Registry {
	def := DefaultConfig()
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	r := &Registry{
		sessions:    make(map[string]*Session),
		newSync:     factory,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.cleanupLoop()

	return r
}

// Get returns the session for id and marks it used. An empty or malformed id, or one that
// is not live, gets a fresh session under a new id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.sessions[id]; ok {
		s.lastSeen = r.now()
		return s, nil
	}

	gate := auth.NewGate()
	s := &Session{
		ID:       uuid.NewString(),
		Gate:     gate,
		Sync:     r.newSync(gate),
		lastSeen: r.now(),
	}
	r.sessions[s.ID] = s
	r.logger.Debug("session created", zap.String("session_id", s.ID))
	return s, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ForUser returns every session signed in as userID.
func (r *Registry) ForUser(userID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for _, s := range r.sessions {
		if s.Gate.CurrentUserID() == userID {
			out = append(out, s)
		}
	}
	return out
}

// ClearUser empties the local cart of every session signed in as userID and returns how
// many sessions were touched.
func (r *Registry) ClearUser(ctx context.Context, userID string) int {
	if userID == "" {
		return 0
	}
	sessions := r.ForUser(userID)
	for _, s := range sessions {
		s.Sync.ClearCart(ctx)
	}
	return len(sessions)
}

// Close stops the cleanup loop and closes every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	close(r.stopCleanup)
	r.wg.Wait()

	var errs []error
	for _, s := range sessions {
		if err := s.Sync.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.expireIdle()
		case <-r.stopCleanup:
			return
		}
	}
}

// expireIdle closes sessions not used for longer than the idle TTL.
func (r *Registry) expireIdle() {
	deadline := r.now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.lastSeen.Before(deadline) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		if err := s.Sync.Close(); err != nil {
			r.logger.Warn("closing expired session", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		r.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
}
