// Package session enforces the one-active-generation-per-user rule.
//
// The Registry is the single source of truth for "is this user busy": a
// Session exists in the registry exactly while its generation is in flight,
// and is removed on every terminal path. Nothing is persisted; registry
// lifetime is process lifetime, entry lifetime is one request.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/koopa0/relay/internal/log"
)

// ErrBusy indicates the owner already has an active session. User-visible
// and non-fatal: the new request is rejected, nothing is mutated.
var ErrBusy = errors.New("session already active for this user")

// Session represents one in-flight generation for one owner.
//
// The Session exclusively owns its cancellation handle; collaborators that
// need to stop the generation go through Cancel. The generation worker
// derives its lifetime from Context.
type Session struct {
	// ID identifies the session in logs and platform component ids.
	ID uuid.UUID

	// OwnerID is the requesting user's opaque identifier. Immutable.
	OwnerID string

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the session's context. It is cancelled when the owner
// stops the generation or the process shuts down.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Cancel signals cooperative cancellation. Safe to call any number of
// times from any goroutine.
func (s *Session) Cancel() {
	s.cancel()
}

// Done reports whether the session's context has been cancelled.
func (s *Session) Done() bool {
	return s.ctx.Err() != nil
}

// Registry tracks active sessions keyed by owner id.
//
// Registry is safe for concurrent use. Acquire and release never block
// beyond the internal mutex, which is never held across a suspension point.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Session
	logger log.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		active: make(map[string]*Session),
		logger: logger,
	}
}

// TryAcquire atomically checks for an existing session for ownerID and,
// if absent, inserts a new one whose context descends from ctx. Returns
// ErrBusy without mutating anything when the owner is already active.
func (r *Registry) TryAcquire(ctx context.Context, ownerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[ownerID]; ok {
		return nil, ErrBusy
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:      uuid.New(),
		OwnerID: ownerID,
		ctx:     sctx,
		cancel:  cancel,
	}
	r.active[ownerID] = s

	r.logger.Debug("session acquired", "session_id", s.ID, "owner_id", ownerID)
	return s, nil
}

// Release removes the owner's session and cancels its context so no worker
// can outlive its registry entry. Idempotent: releasing an absent owner is
// a no-op, so completion and cancellation paths may both call it.
func (r *Registry) Release(ownerID string) {
	r.mu.Lock()
	s, ok := r.active[ownerID]
	if ok {
		delete(r.active, ownerID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	s.cancel()
	r.logger.Debug("session released", "session_id", s.ID, "owner_id", ownerID)
}

// Active reports whether the owner currently has a session.
func (r *Registry) Active(ownerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[ownerID]
	return ok
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
