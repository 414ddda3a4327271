// Package session manages server-side sessions and the cookie that carries
// their identifier.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpmw "github.com/elgarage/garage/internal/http"
	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNoSession means the identifier is unknown, expired or idle.
	ErrNoSession = errors.New("no session")

	// ErrStoreUnavailable is store.ErrStoreUnavailable, repeated here so
	// callers only need this package.
	ErrStoreUnavailable = store.ErrStoreUnavailable
)

// Meta describes the client a session was issued to.
type Meta struct {
	UserAgent string
	IPAddress string
}

// MetaFromRequest reads the client metadata of r.
func MetaFromRequest(r *http.Request) Meta {
	ip := httpmw.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = httpmw.ExtractClientIP(r)
	}
	return Meta{UserAgent: r.UserAgent(), IPAddress: ip}
}

// Manager issues, resolves and destroys sessions.
type Manager struct {
	sessions store.SessionStore
	cfg      Config
	now      func() time.Time
}

// NewManager creates a Manager. cfg defaults are applied before validation.
func NewManager(sessions store.SessionStore, cfg Config) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{sessions: sessions, cfg: cfg, now: time.Now}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.StoreTimeout)
}

// CreateSession issues a new session bound to identity. The role and display
// name are snapshotted at this point.
func (m *Manager) CreateSession(ctx context.Context, identity *models.Identity, meta Meta) (*models.Session, error) {
	displayName := identity.Profile.DisplayName()
	if displayName == "" {
		displayName = identity.Username
	}

	sess, err := m.create(ctx, m.cfg.TTL, meta, func(s *models.Session) {
		s.IdentityID = identity.ID
		s.Username = identity.Username
		s.DisplayName = displayName
		s.Role = identity.Role
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session", shortID(sess.ID)).
		Int64("identity_id", sess.IdentityID).
		Str("role", sess.Role.String()).
		Msg("Session created")

	return sess, nil
}

// CreateAnonymous issues a session with no identity. It only carries the CSRF
// token of forms shown before login.
func (m *Manager) CreateAnonymous(ctx context.Context, meta Meta) (*models.Session, error) {
	return m.create(ctx, m.cfg.AnonymousTTL, meta, nil)
}

func (m *Manager) create(ctx context.Context, ttl time.Duration, meta Meta, bind func(*models.Session)) (*models.Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	now := m.now()
	sess := &models.Session{
		ID:         id,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
	}
	if bind != nil {
		bind(sess)
	}

	storeCtx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.sessions.Create(storeCtx, sess); err != nil {
		// The owner was deleted between verification and session creation.
		if errors.Is(err, store.ErrIdentityNotFound) {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return nil, fmt.Errorf("failed to create session: %w", store.Unavailable(err))
	}

	kind := "anonymous"
	if sess.IdentityID != 0 {
		kind = "authenticated"
	}
	telemetry.GetMetrics().SessionsCreatedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)))

	return sess, nil
}

// Authenticate destroys the pre-login session previousID (if any) and issues
// a fresh one for identity, so an identifier planted before login never
// becomes authenticated.
func (m *Manager) Authenticate(ctx context.Context, previousID string, identity *models.Identity, meta Meta) (*models.Session, error) {
	if previousID != "" {
		if err := m.Destroy(ctx, previousID); err != nil {
			return nil, err
		}
	}
	return m.CreateSession(ctx, identity, meta)
}

// Ensure returns the session of r, creating an anonymous one and setting its
// cookie when there is none.
func (m *Manager) Ensure(w http.ResponseWriter, r *http.Request) (*models.Session, error) {
	if sess := FromContext(r.Context()); sess != nil {
		return sess, nil
	}

	sess, err := m.CreateAnonymous(r.Context(), MetaFromRequest(r))
	if err != nil {
		return nil, err
	}
	m.SetCookie(w, sess)
	return sess, nil
}

// Lookup resolves id. Unknown, expired and idle sessions are ErrNoSession;
// expired and idle records are deleted on sight. Any other failure is
// ErrStoreUnavailable.
func (m *Manager) Lookup(ctx context.Context, id string) (*models.Session, error) {
	if !validID(id) {
		return nil, ErrNoSession
	}

	storeCtx, cancel := m.bound(ctx)
	sess, err := m.sessions.Get(storeCtx, id)
	cancel()

	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return nil, ErrNoSession
	case errors.Is(err, store.ErrSessionExpired):
		m.discard(ctx, id, "expired")
		return nil, ErrNoSession
	case err != nil:
		return nil, fmt.Errorf("failed to look up session: %w", store.Unavailable(err))
	}

	now := m.now()
	if sess.IsExpiredAt(now) {
		m.discard(ctx, id, "expired")
		return nil, ErrNoSession
	}
	if m.cfg.IdleTimeout > 0 && now.Sub(sess.LastUsedAt) >= m.cfg.IdleTimeout {
		m.discard(ctx, id, "idle")
		return nil, ErrNoSession
	}

	if now.Sub(sess.LastUsedAt) >= m.cfg.TouchInterval {
		storeCtx, cancel := m.bound(ctx)
		if err := m.sessions.UpdateLastUsed(storeCtx, id, now); err != nil {
			log.Warn().Err(err).Str("session", shortID(id)).Msg("Failed to record session activity")
		} else {
			sess.LastUsedAt = now
		}
		cancel()
	}

	return sess, nil
}

// discard deletes a session found expired or idle. Failure only logs: the
// session is already refused and the sweeper will retry.
func (m *Manager) discard(ctx context.Context, id, reason string) {
	storeCtx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.sessions.Delete(storeCtx, id); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		log.Warn().Err(err).Str("session", shortID(id)).Msg("Failed to delete stale session")
		return
	}
	telemetry.GetMetrics().SessionsDestroyedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
	log.Debug().Str("session", shortID(id)).Str("reason", reason).Msg("Session discarded")
}

// Destroy removes a session and the CSRF token bound to it. Destroying an
// unknown session is not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}

	storeCtx, cancel := m.bound(ctx)
	defer cancel()

	err := m.sessions.Delete(storeCtx, id)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to destroy session: %w", store.Unavailable(err))
	}

	telemetry.GetMetrics().SessionsDestroyedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", "destroyed")))
	log.Info().Str("session", shortID(id)).Msg("Session destroyed")
	return nil
}

// DestroyAllFor removes every session of identityID.
func (m *Manager) DestroyAllFor(ctx context.Context, identityID int64) (int, error) {
	storeCtx, cancel := m.bound(ctx)
	defer cancel()

	count, err := m.sessions.DeleteByIdentity(storeCtx, identityID)
	if err != nil {
		return 0, fmt.Errorf("failed to destroy sessions: %w", store.Unavailable(err))
	}

	if count > 0 {
		telemetry.GetMetrics().SessionsDestroyedTotal.Add(ctx, int64(count),
			metric.WithAttributes(attribute.String("reason", "identity")))
	}
	log.Info().Int64("identity_id", identityID).Int("count", count).Msg("Destroyed identity sessions")
	return count, nil
}
