package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		pool: pool,
	}
}

func nullable[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

// Create creates a new session in the database.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	var role any
	if session.Role != 0 {
		role = session.Role.String()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (
			session_id, identity_id, username, display_name, role, csrf_token,
			created_at, expires_at, last_used_at,
			user_agent, ip_address
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::inet
		)
	`,
		session.ID,
		nullable(session.IdentityID),
		session.Username,
		session.DisplayName,
		role,
		nullable(session.CSRFToken),
		session.CreatedAt,
		session.ExpiresAt,
		session.LastUsedAt,
		session.UserAgent,
		nullable(session.IPAddress),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", mapPostgresError(err))
	}

	log.Debug().
		Int64("identity_id", session.IdentityID).
		Bool("anonymous", session.IdentityID == 0).
		Msg("Created session")

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := withRetry(ctx, "session.get", func() (*models.Session, error) {
		var (
			session    models.Session
			identityID *int64
			role       *string
			csrfToken  *string
			ipAddress  *string
		)

		err := s.pool.QueryRow(ctx, `
			SELECT
				session_id, identity_id, username, display_name, role, csrf_token,
				created_at, expires_at, last_used_at,
				user_agent, host(ip_address)
			FROM sessions
			WHERE session_id = $1
		`, sessionID).Scan(
			&session.ID,
			&identityID,
			&session.Username,
			&session.DisplayName,
			&role,
			&csrfToken,
			&session.CreatedAt,
			&session.ExpiresAt,
			&session.LastUsedAt,
			&session.UserAgent,
			&ipAddress,
		)
		if err != nil {
			return nil, err
		}

		if identityID != nil {
			session.IdentityID = *identityID
		}
		if role != nil {
			if session.Role, err = models.ParseRole(*role); err != nil {
				return nil, err
			}
		}
		if csrfToken != nil {
			session.CSRFToken = *csrfToken
		}
		if ipAddress != nil {
			session.IPAddress = *ipAddress
		}

		return &session, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return session, nil
}

// UpdateLastUsed updates the last_used_at timestamp for a session.
func (s *SessionStore) UpdateLastUsed(ctx context.Context, sessionID string, at time.Time) error {
	err := exec(ctx, "session.update_last_used", func() error {
		result, err := s.pool.Exec(ctx,
			`UPDATE sessions SET last_used_at = $2 WHERE session_id = $1`,
			sessionID, at)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return store.ErrSessionNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("failed to update session last_used_at: %w", err)
	}
	return err
}

// GetOrCreateCSRFToken stores candidate unless a token is already bound. The
// row lock taken by UPDATE makes concurrent callers agree on one token.
func (s *SessionStore) GetOrCreateCSRFToken(ctx context.Context, sessionID, candidate string) (string, error) {
	token, err := withRetry(ctx, "session.csrf_token", func() (string, error) {
		var token string
		err := s.pool.QueryRow(ctx, `
			UPDATE sessions
			SET csrf_token = COALESCE(csrf_token, $2)
			WHERE session_id = $1 AND expires_at > now()
			RETURNING csrf_token
		`, sessionID, candidate).Scan(&token)
		return token, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to issue csrf token: %w", err)
	}

	return token, nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	err := exec(ctx, "session.delete", func() error {
		result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return store.ErrSessionNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return err
}

// DeleteByIdentity deletes all sessions for an identity (logout everywhere).
func (s *SessionStore) DeleteByIdentity(ctx context.Context, identityID int64) (int, error) {
	count, err := withRetry(ctx, "session.delete_by_identity", func() (int, error) {
		result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE identity_id = $1`, identityID)
		if err != nil {
			return 0, err
		}
		return int(result.RowsAffected()), nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions by identity: %w", err)
	}

	log.Info().
		Int64("identity_id", identityID).
		Int("count", count).
		Msg("Deleted all sessions for identity")

	return count, nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", mapPostgresError(err))
	}

	return int(result.RowsAffected()), nil
}
