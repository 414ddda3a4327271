// Package login serves the login form, the logout action and the session
// introspection endpoint used by scripts.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elgarage/garage/internal/credentials"
	"github.com/elgarage/garage/internal/csrf"
	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/session"
	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/elgarage/garage/internal/validate"
	"github.com/elgarage/garage/internal/view"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Paths served or redirected to by this package.
const (
	LoginPath   = "/login"
	LogoutPath  = "/logout"
	SessionPath = "/api/v1/session"
	PublicPath  = "/"
	AdminHome   = "/admin"
	UserHome    = "/account"
)

// invalidCredentialsMessage is shown for every failed login so the response
// never reveals whether the username exists.
const invalidCredentialsMessage = "Invalid username or password."

// Authenticator verifies a username and password.
type Authenticator interface {
	VerifyCredentials(ctx context.Context, username, password string) (*models.Identity, error)
}

// Renderer renders an HTML page.
type Renderer interface {
	Render(w http.ResponseWriter, status int, page string, data view.PageData) error
}

// Handler serves login and logout.
type Handler struct {
	auth     Authenticator
	sessions *session.Manager
	guard    *csrf.Guard
	views    Renderer
}

// NewHandler creates a Handler.
func NewHandler(auth Authenticator, sessions *session.Manager, guard *csrf.Guard, views Renderer) *Handler {
	return &Handler{
		auth:     auth,
		sessions: sessions,
		guard:    guard,
		views:    views,
	}
}

// HomePath is where an identity with role lands after login.
func HomePath(role models.Role) string {
	if role == models.RoleAdmin {
		return AdminHome
	}
	return UserHome
}

// Render writes page for the session of r. Pages always carry a CSRF token,
// so a session is created first when the request has none.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request, status int, page string, data view.PageData) {
	logger := zerolog.Ctx(r.Context())

	sess, err := h.sessions.Ensure(w, r)
	if err == nil {
		data.Session = sess
		data.CSRFToken, err = h.guard.IssueToken(r.Context(), sess)
	}
	if err != nil {
		logger.Error().Err(err).Str("page", page).Msg("Failed to prepare page session")
		h.unavailable(w)
		return
	}

	if err := h.views.Render(w, status, page, data); err != nil {
		logger.Error().Err(err).Str("page", page).Msg("Failed to render page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// RenderError writes the error page with status.
func (h *Handler) RenderError(w http.ResponseWriter, r *http.Request, status int) {
	h.Render(w, r, status, view.PageError, view.PageData{Title: http.StatusText(status)})
}

func (h *Handler) unavailable(w http.ResponseWriter) {
	http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
}

func recordAttempt(ctx context.Context, outcome string) {
	telemetry.GetMetrics().LoginAttemptsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// LoginPage handles GET /login.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if sess := session.FromContext(r.Context()); sess.Authenticated() {
		http.Redirect(w, r, HomePath(sess.Role), http.StatusFound)
		return
	}

	data := view.PageData{Title: "Log in"}
	if r.URL.Query().Has("registered") {
		data.Notice = "Your account was created. You can log in now."
	}
	h.Render(w, r, http.StatusOK, view.PageLogin, data)
}

// Login handles POST /login. The CSRF token has already been checked.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	fail := func(status int, msg string) {
		h.Render(w, r, status, view.PageLogin, view.PageData{
			Title:  "Log in",
			Errors: []string{msg},
			Form:   map[string]string{"username": username},
		})
	}

	if username == "" || password == "" {
		recordAttempt(ctx, "missing_fields")
		fail(http.StatusUnprocessableEntity, "Username and password are required.")
		return
	}

	// A handle that could never have been registered is refused without a
	// store round trip, but with the same message as a wrong password.
	if validate.Username(username) != "" || len(password) > 1024 {
		recordAttempt(ctx, "invalid")
		fail(http.StatusUnprocessableEntity, invalidCredentialsMessage)
		return
	}

	identity, err := h.auth.VerifyCredentials(ctx, username, password)
	switch {
	case errors.Is(err, credentials.ErrInvalidCredentials):
		recordAttempt(ctx, "invalid")
		logger.Info().Msg("Login failed")
		fail(http.StatusUnprocessableEntity, invalidCredentialsMessage)
		return
	case err != nil:
		recordAttempt(ctx, "error")
		logger.Error().Err(err).Msg("Login could not be verified")
		h.unavailable(w)
		return
	}

	var previousID string
	if prev := session.FromContext(ctx); prev != nil {
		previousID = prev.ID
	}

	sess, err := h.sessions.Authenticate(ctx, previousID, identity, session.MetaFromRequest(r))
	if errors.Is(err, store.ErrIdentityNotFound) {
		// Deleted after the password check. The previous session is gone too.
		recordAttempt(ctx, "invalid")
		logger.Info().Int64("identity_id", identity.ID).Msg("Login failed, identity deleted")
		r = r.WithContext(session.WithSession(ctx, nil))
		fail(http.StatusUnprocessableEntity, invalidCredentialsMessage)
		return
	}
	if err != nil {
		recordAttempt(ctx, "error")
		logger.Error().Err(err).Msg("Failed to start session")
		h.unavailable(w)
		return
	}

	h.sessions.SetCookie(w, sess)
	recordAttempt(ctx, "success")
	logger.Info().
		Int64("identity_id", identity.ID).
		Str("role", identity.Role.String()).
		Msg("Login succeeded")

	http.Redirect(w, r, HomePath(sess.Role), http.StatusSeeOther)
}

// Logout handles POST /logout. The CSRF token has already been checked.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if sess := session.FromContext(ctx); sess != nil {
		if err := h.sessions.Destroy(ctx, sess.ID); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to destroy session on logout")
			h.unavailable(w)
			return
		}
		telemetry.GetMetrics().LogoutsTotal.Add(ctx, 1)
		zerolog.Ctx(ctx).Info().Int64("identity_id", sess.IdentityID).Msg("Logged out")
	}

	h.sessions.ClearCookie(w)
	http.Redirect(w, r, PublicPath, http.StatusSeeOther)
}

// SessionInfo is the body of GET /api/v1/session.
type SessionInfo struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	Role          string `json:"role,omitempty"`
	CSRFToken     string `json:"csrf_token"`
}

// Session handles GET /api/v1/session. Scripts use it to learn who is logged
// in and to obtain the CSRF token for their state changing requests.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	sess, err := h.sessions.Ensure(w, r)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to ensure session")
		h.unavailable(w)
		return
	}

	token, err := h.guard.IssueToken(ctx, sess)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to issue csrf token")
		h.unavailable(w)
		return
	}

	info := SessionInfo{CSRFToken: token}
	if sess.Authenticated() {
		info.Authenticated = true
		info.Username = sess.Username
		info.DisplayName = sess.DisplayName
		info.Role = sess.Role.String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error().Err(err).Msg("Failed to encode session response")
	}
}
