package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/session"
	"github.com/stretchr/testify/require"
)

var (
	anonymous = &models.Session{ID: "anon"}
	user      = &models.Session{ID: "u", IdentityID: 1, Role: models.RoleUser}
	admin     = &models.Session{ID: "a", IdentityID: 2, Role: models.RoleAdmin}
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		role     models.Role
		perm     Permission
		expected bool
	}{
		{"admin can manage users", models.RoleAdmin, PermManageUsers, true},
		{"admin can manage news", models.RoleAdmin, PermManageNews, true},
		{"admin can book appointments", models.RoleAdmin, PermBookAppointments, true},
		{"user can edit profile", models.RoleUser, PermEditProfile, true},
		{"user can change password", models.RoleUser, PermChangePassword, true},
		{"user can book appointments", models.RoleUser, PermBookAppointments, true},
		{"user cannot manage users", models.RoleUser, PermManageUsers, false},
		{"user cannot manage appointments", models.RoleUser, PermManageAppointments, false},
		{"no role has nothing", models.Role(0), PermViewProfile, false},
		{"unknown permission", models.RoleAdmin, Permission("news:publish"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, HasPermission(tt.role, tt.perm))
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		sess     *models.Session
		required models.Role
		wantErr  error
	}{
		{"nil session", nil, models.RoleUser, ErrUnauthenticated},
		{"anonymous session", anonymous, models.RoleUser, ErrUnauthenticated},
		{"user on user route", user, models.RoleUser, nil},
		{"user on admin route", user, models.RoleAdmin, ErrUnauthorized},
		{"admin on admin route", admin, models.RoleAdmin, nil},
		{"admin on user route", admin, models.RoleUser, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireRole(tt.sess, tt.required)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRequirePermission(t *testing.T) {
	require.ErrorIs(t, RequirePermission(anonymous, PermViewProfile), ErrUnauthenticated)
	require.ErrorIs(t, RequirePermission(user, PermManageUsers), ErrUnauthorized)
	require.NoError(t, RequirePermission(user, PermChangePassword))
	require.NoError(t, RequirePermission(admin, PermManageUsers))
}

func TestForbidSelfDestructiveAction(t *testing.T) {
	require.ErrorIs(t, ForbidSelfDestructiveAction(admin, admin.IdentityID), ErrSelfDestructive)
	require.NoError(t, ForbidSelfDestructiveAction(admin, user.IdentityID))
	require.ErrorIs(t, ForbidSelfDestructiveAction(nil, 1), ErrUnauthenticated)
}

func TestRequireRoleHandler(t *testing.T) {
	handler := RequireRoleHandler(models.RoleAdmin, "/login", "/")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	tests := []struct {
		name         string
		sess         *models.Session
		wantStatus   int
		wantLocation string
	}{
		{"no session", nil, http.StatusFound, "/login"},
		{"anonymous", anonymous, http.StatusFound, "/login"},
		{"user", user, http.StatusFound, "/"},
		{"admin", admin, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.sess != nil {
				req = req.WithContext(session.WithSession(req.Context(), tt.sess))
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
		})
	}
}
