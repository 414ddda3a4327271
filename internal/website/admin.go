package website

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/elgarage/garage/internal/authz"
	"github.com/elgarage/garage/internal/credentials"
	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/session"
	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/validate"
	"github.com/elgarage/garage/internal/view"
	"github.com/rs/zerolog"
)

const adminUsersPath = "/admin/users"

const ownPasswordMessage = "Change your own password from the password page."

func targetID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) adminDashboard(w http.ResponseWriter, r *http.Request) {
	counts, err := s.credentials.CountByRole(r.Context())
	if err != nil {
		s.fail(w, r, view.PageAdminDashboard, view.PageData{}, err)
		return
	}

	rows := make([]view.RoleCount, 0, len(models.Roles))
	for _, role := range models.Roles {
		rows = append(rows, view.RoleCount{Role: role, Count: counts[role]})
	}

	s.login.Render(w, r, http.StatusOK, view.PageAdminDashboard, view.PageData{
		Title: "Administration",
		Data:  rows,
	})
}

// renderUsers shows the user list with status, keeping data's form and errors.
func (s *Server) renderUsers(w http.ResponseWriter, r *http.Request, status int, data view.PageData) {
	identities, err := s.credentials.List(r.Context(), store.ListIdentitiesOptions{})
	if err != nil {
		s.fail(w, r, view.PageAdminUsers, view.PageData{}, err)
		return
	}

	data.Title = "Users"
	data.Data = identities
	s.login.Render(w, r, status, view.PageAdminUsers, data)
}

func (s *Server) adminUsers(w http.ResponseWriter, r *http.Request) {
	var data view.PageData
	switch {
	case r.URL.Query().Has("created"):
		data.Notice = "User created."
	case r.URL.Query().Has("updated"):
		data.Notice = "User updated."
	case r.URL.Query().Has("deleted"):
		data.Notice = "User deleted."
	}
	s.renderUsers(w, r, http.StatusOK, data)
}

// failUsers reports err on the user list, or falls back to fail.
func (s *Server) failUsers(w http.ResponseWriter, r *http.Request, data view.PageData, err error) {
	msgs, ok := formErrors(err)
	switch {
	case ok:
	case errors.Is(err, authz.ErrSelfDestructive):
		msgs = []string{"You cannot do that to your own account."}
	case errors.Is(err, models.ErrInvalidRole):
		msgs = []string{"Select a valid role."}
	default:
		s.fail(w, r, view.PageAdminUsers, data, err)
		return
	}
	data.Errors = append(data.Errors, msgs...)
	s.renderUsers(w, r, http.StatusUnprocessableEntity, data)
}

func (s *Server) adminCreateUser(w http.ResponseWriter, r *http.Request) {
	form := readForm(r, append([]string{"username"}, profileFields...)...)
	data := view.PageData{Form: form}

	profile, errs := parseProfile(form, s.now())

	role, err := models.ParseRole(r.PostFormValue("role"))
	if err != nil {
		errs.Add("Select a valid role.")
	}

	req := credentials.NewIdentity{
		Username: form["username"],
		Password: r.PostFormValue("password"),
		Role:     role,
		Profile:  profile,
	}
	if err == nil {
		errs = append(req.Validate(), errs...)
	}
	if !errs.Empty() {
		s.failUsers(w, r, data, errs)
		return
	}

	identity, err := s.credentials.CreateIdentity(r.Context(), req)
	if err != nil {
		s.failUsers(w, r, data, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Int64("identity_id", identity.ID).
		Int64("admin_id", session.FromContext(r.Context()).IdentityID).
		Msg("Admin created user")
	http.Redirect(w, r, adminUsersPath+"?created=1", http.StatusSeeOther)
}

func (s *Server) adminChangeRole(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	id, ok := targetID(r)
	if !ok {
		s.login.RenderError(w, r, http.StatusNotFound)
		return
	}

	role, err := models.ParseRole(r.PostFormValue("role"))
	if err != nil {
		s.failUsers(w, r, view.PageData{}, err)
		return
	}

	// An admin cannot change their own role, which would lock them out.
	if err := authz.ForbidSelfDestructiveAction(sess, id); err != nil {
		s.failUsers(w, r, view.PageData{}, err)
		return
	}

	if err := s.credentials.ChangeRole(r.Context(), id, role); err != nil {
		s.failUsers(w, r, view.PageData{}, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Int64("identity_id", id).
		Int64("admin_id", sess.IdentityID).
		Str("role", role.String()).
		Msg("Admin changed role")
	http.Redirect(w, r, adminUsersPath+"?updated=1", http.StatusSeeOther)
}

func (s *Server) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	id, ok := targetID(r)
	if !ok {
		s.login.RenderError(w, r, http.StatusNotFound)
		return
	}

	if err := authz.ForbidSelfDestructiveAction(sess, id); err != nil {
		s.failUsers(w, r, view.PageData{}, err)
		return
	}

	if err := s.credentials.Delete(ctx, id); err != nil {
		s.failUsers(w, r, view.PageData{}, err)
		return
	}

	// PostgreSQL cascades the delete to sessions. The memory store only
	// refuses new ones, so existing sessions are removed here.
	if _, err := s.sessions.DestroyAllFor(ctx, id); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("identity_id", id).Msg("Failed to destroy sessions of deleted user")
	}

	zerolog.Ctx(ctx).Info().
		Int64("identity_id", id).
		Int64("admin_id", sess.IdentityID).
		Msg("Admin deleted user")
	http.Redirect(w, r, adminUsersPath+"?deleted=1", http.StatusSeeOther)
}

func (s *Server) adminEditUserPage(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		s.login.RenderError(w, r, http.StatusNotFound)
		return
	}

	identity, err := s.credentials.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, view.PageAdminUserEdit, view.PageData{}, err)
		return
	}

	s.login.Render(w, r, http.StatusOK, view.PageAdminUserEdit, view.PageData{
		Title: "Edit user",
		Form:  profileForm(identity),
		Data:  identity.ID,
	})
}

func (s *Server) adminEditUser(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		s.login.RenderError(w, r, http.StatusNotFound)
		return
	}

	sess := session.FromContext(r.Context())
	form := readForm(r, append([]string{"username"}, profileFields...)...)
	data := view.PageData{Title: "Edit user", Form: form, Data: id}
	password := r.PostFormValue("password")

	profile, errs := parseProfile(form, s.now())
	errs = append(validate.Profile(profile), errs...)
	errs.Add(validate.Username(form["username"]))
	if password != "" {
		errs.Add(validate.Password(password))
		// Your own password changes only through ChangeSecret, which asks
		// for the current one.
		if errors.Is(authz.ForbidSelfDestructiveAction(sess, id), authz.ErrSelfDestructive) {
			errs.Add(ownPasswordMessage)
		}
	}
	if !errs.Empty() {
		s.fail(w, r, view.PageAdminUserEdit, data, errs)
		return
	}

	if _, err := s.credentials.UpdateAccount(r.Context(), id, form["username"], profile, password); err != nil {
		s.fail(w, r, view.PageAdminUserEdit, data, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Int64("identity_id", id).
		Int64("admin_id", sess.IdentityID).
		Bool("password_reset", password != "").
		Msg("Admin edited user")
	http.Redirect(w, r, adminUsersPath+"?updated=1", http.StatusSeeOther)
}
