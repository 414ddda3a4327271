package store

import (
	"context"
	"time"

	"github.com/elgarage/garage/internal/models"
)

// SessionStore persists server-side sessions.
type SessionStore interface {
	// Create stores a new session. The ID must not already exist.
	Create(ctx context.Context, session *models.Session) error

	// Get retrieves a session by ID, returning ErrSessionExpired once it is
	// past ExpiresAt.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// UpdateLastUsed records activity on a session.
	UpdateLastUsed(ctx context.Context, sessionID string, at time.Time) error

	// GetOrCreateCSRFToken atomically returns the token bound to the session,
	// storing candidate first if none is set yet. Concurrent callers always
	// observe the same token.
	GetOrCreateCSRFToken(ctx context.Context, sessionID, candidate string) (string, error)

	// Delete removes a session (logout).
	Delete(ctx context.Context, sessionID string) error

	// DeleteByIdentity removes every session bound to an identity.
	DeleteByIdentity(ctx context.Context, identityID int64) (int, error)

	// DeleteExpired removes all sessions past their expiry (cleanup job).
	DeleteExpired(ctx context.Context) (int, error)
}
