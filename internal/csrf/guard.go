// Package csrf binds anti-forgery tokens to server-side sessions and rejects
// state-changing requests that do not echo them back.
//
// A token is issued once per session and stays valid until the session is
// destroyed; it is not rotated per request.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/session"
	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// FieldName is the hidden form field carrying the token.
	FieldName = "csrf_token"
	// HeaderName carries the token on script requests.
	HeaderName = "X-CSRF-Token"

	tokenBytes = 32
)

var (
	// ErrMismatch covers a missing, unknown or different token.
	ErrMismatch = errors.New("csrf token mismatch")
	// ErrNoSession is returned when a token is requested without a session.
	ErrNoSession = errors.New("csrf token requires a session")
	// ErrStoreUnavailable is store.ErrStoreUnavailable.
	ErrStoreUnavailable = store.ErrStoreUnavailable
)

// Guard issues and checks session-bound tokens.
type Guard struct {
	sessions     store.SessionStore
	storeTimeout time.Duration
}

// NewGuard creates a Guard reading tokens from sessions.
func NewGuard(sessions store.SessionStore, storeTimeout time.Duration) *Guard {
	if storeTimeout <= 0 {
		storeTimeout = session.DefaultStoreTimeout
	}
	return &Guard{sessions: sessions, storeTimeout: storeTimeout}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IssueToken returns the token bound to sess, creating it on first use.
// Concurrent calls for one session all return the same token.
func (g *Guard) IssueToken(ctx context.Context, sess *models.Session) (string, error) {
	if sess == nil {
		return "", ErrNoSession
	}

	candidate, err := newToken()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	token, err := g.sessions.GetOrCreateCSRFToken(ctx, sess.ID, candidate)
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
		return "", ErrNoSession
	case err != nil:
		return "", fmt.Errorf("failed to issue csrf token: %w", store.Unavailable(err))
	}

	sess.CSRFToken = token
	return token, nil
}

// Check compares supplied with the token stored for sess in constant time.
func (g *Guard) Check(ctx context.Context, sess *models.Session, supplied string) error {
	if sess == nil || supplied == "" {
		return ErrMismatch
	}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	current, err := g.sessions.Get(ctx, sess.ID)
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
		return ErrMismatch
	case err != nil:
		return fmt.Errorf("failed to check csrf token: %w", store.Unavailable(err))
	}

	if current.CSRFToken == "" ||
		subtle.ConstantTimeCompare([]byte(current.CSRFToken), []byte(supplied)) != 1 {
		return ErrMismatch
	}
	return nil
}

// Validate is Check reduced to a yes or no. A store failure is a no.
func (g *Guard) Validate(ctx context.Context, sess *models.Session, supplied string) bool {
	return g.Check(ctx, sess, supplied) == nil
}

// Protect rejects POST, PUT, PATCH and DELETE requests whose token does not
// match the session's before next runs. The token is read from HeaderName,
// falling back to the FieldName form field.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		supplied := r.Header.Get(HeaderName)
		if supplied == "" {
			supplied = r.PostFormValue(FieldName)
		}

		err := g.Check(r.Context(), session.FromContext(r.Context()), supplied)
		switch {
		case err == nil:
			next.ServeHTTP(w, r)

		case errors.Is(err, ErrMismatch):
			telemetry.GetMetrics().CSRFRejectionsTotal.Add(r.Context(), 1,
				metric.WithAttributes(attribute.Bool("token_present", supplied != "")))
			zerolog.Ctx(r.Context()).Warn().Bool("token_present", supplied != "").Msg("CSRF token rejected")
			http.Error(w, "Forbidden", http.StatusForbidden)

		default:
			telemetry.GetMetrics().StoreUnavailableTotal.Add(r.Context(), 1,
				metric.WithAttributes(attribute.String("component", "csrf")))
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("CSRF check failed")
			http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
		}
	})
}
