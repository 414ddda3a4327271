package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type contextKey struct{}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session resolved by Middleware, or nil.
func FromContext(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(contextKey{}).(*models.Session)
	return sess
}

// SetCookie writes the cookie carrying sess.ID. It expires with the session.
func (m *Manager) SetCookie(w http.ResponseWriter, sess *models.Session) {
	maxAge := int(sess.ExpiresAt.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
		Expires:  sess.ExpiresAt,
	})
}

// ClearCookie tells the client to drop the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware resolves the session cookie into the request context. Unknown
// or expired cookies are cleared and the request continues without a
// session. A store failure answers 503 without calling next.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cfg.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.Lookup(r.Context(), cookie.Value)
		switch {
		case errors.Is(err, ErrNoSession):
			m.ClearCookie(w)
			next.ServeHTTP(w, r)
			return
		case err != nil:
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Session store unavailable")
			telemetry.GetMetrics().StoreUnavailableTotal.Add(r.Context(), 1,
				metric.WithAttributes(attribute.String("component", "session")))
			http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}
