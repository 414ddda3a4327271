// Package authz decides what an authenticated session may do.
//
// Every check reads the role snapshot held by the session; the identity store
// is never consulted, so a role change takes effect at the next login.
package authz

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/session"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrUnauthorized    = errors.New("not authorized")
	ErrSelfDestructive = errors.New("action not allowed on own account")
)

// Permission represents an authorized action
type Permission string

const (
	PermViewProfile        Permission = "profile:view"
	PermEditProfile        Permission = "profile:edit"
	PermChangePassword     Permission = "password:change"
	PermManageUsers        Permission = "users:manage"
	PermManageNews         Permission = "news:manage"
	PermManageAppointments Permission = "appointments:manage"
	PermBookAppointments   Permission = "appointments:book"
)

// RolePermissions maps roles to allowed permissions
var RolePermissions = map[models.Role][]Permission{
	models.RoleAdmin: {
		PermViewProfile,
		PermEditProfile,
		PermChangePassword,
		PermManageUsers,
		PermManageNews,
		PermManageAppointments,
		PermBookAppointments,
	},
	models.RoleUser: {
		PermViewProfile,
		PermEditProfile,
		PermChangePassword,
		PermBookAppointments,
	},
}

// HasPermission checks if a role has a specific permission
func HasPermission(role models.Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	return slices.Contains(perms, perm)
}

// RequireRole reports whether sess may access something reserved for
// required. Admins satisfy user requirements.
func RequireRole(sess *models.Session, required models.Role) error {
	if !sess.Authenticated() {
		return ErrUnauthenticated
	}
	if !sess.Role.Satisfies(required) {
		return fmt.Errorf("%w: %s requires %s", ErrUnauthorized, sess.Role, required)
	}
	return nil
}

// RequirePermission checks authorization and returns an error if not authorized
func RequirePermission(sess *models.Session, perm Permission) error {
	if !sess.Authenticated() {
		return ErrUnauthenticated
	}
	if !HasPermission(sess.Role, perm) {
		return fmt.Errorf("%w: %s requires %s", ErrUnauthorized, sess.Role, perm)
	}
	return nil
}

// ForbidSelfDestructiveAction refuses actions an identity must not take on
// itself, such as deleting or demoting its own account.
func ForbidSelfDestructiveAction(sess *models.Session, targetID int64) error {
	if !sess.Authenticated() {
		return ErrUnauthenticated
	}
	if sess.IdentityID == targetID {
		return ErrSelfDestructive
	}
	return nil
}

// RequireRoleHandler gates next on the session role. Requests without an
// authenticated session are sent to loginPath; authenticated sessions with
// an insufficient role are sent to publicPath.
func RequireRoleHandler(required models.Role, loginPath, publicPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())

			err := RequireRole(sess, required)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			reason := "unauthenticated"
			target := loginPath
			if errors.Is(err, ErrUnauthorized) {
				reason = "unauthorized"
				target = publicPath
			}

			telemetry.GetMetrics().AuthzDenialsTotal.Add(r.Context(), 1,
				metric.WithAttributes(
					attribute.String("reason", reason),
					attribute.String("required_role", required.String()),
				))
			zerolog.Ctx(r.Context()).Debug().
				Str("reason", reason).
				Str("required_role", required.String()).
				Msg("Access denied, redirecting")

			http.Redirect(w, r, target, http.StatusFound)
		})
	}
}
