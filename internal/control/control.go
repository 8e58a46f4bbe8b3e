// Package control implements the owner-restricted stop trigger bound to one
// in-flight generation.
//
// The owner check is a capability check on an opaque user id, not
// authentication: a non-owner activation is silently ignored so the control
// leaks nothing beyond what its presence already implies.
package control

import (
	"github.com/koopa0/relay/internal/log"
)

// Stop binds a cancel trigger to one session owner.
//
// Activations are idempotent; pressing stop after cancellation has already
// been requested is a harmless no-op.
type Stop struct {
	ownerID string
	cancel  func()
	logger  log.Logger
}

// NewStop creates a Stop for ownerID wired to the session's cancel handle.
func NewStop(ownerID string, cancel func(), logger log.Logger) *Stop {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Stop{ownerID: ownerID, cancel: cancel, logger: logger}
}

// OwnerID returns the bound owner's id.
func (s *Stop) OwnerID() string {
	return s.ownerID
}

// Activate handles one press by userID and reports whether cancellation was
// requested. Non-owners are ignored without visible effect; the platform
// layer still acknowledges the interaction in every case so no stale
// "thinking" indicator is shown.
func (s *Stop) Activate(userID string) bool {
	if userID != s.ownerID {
		s.logger.Debug("stop pressed by non-owner", "owner_id", s.ownerID, "user_id", userID)
		return false
	}

	s.cancel()
	s.logger.Info("stop requested by owner", "owner_id", s.ownerID)
	return true
}
