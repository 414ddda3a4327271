package website

import (
	"errors"
	"net/http"
	"time"

	"github.com/elgarage/garage/internal/credentials"
	"github.com/elgarage/garage/internal/login"
	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/session"
	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/validate"
	"github.com/elgarage/garage/internal/view"
	"github.com/rs/zerolog"
)

var profileFields = []string{"first_name", "last_name", "email", "phone", "birth_date", "address", "gender"}

// readForm copies the named fields of the submitted form.
func readForm(r *http.Request, fields ...string) map[string]string {
	form := make(map[string]string, len(fields))
	for _, f := range fields {
		form[f] = r.PostFormValue(f)
	}
	return form
}

// profileForm returns the form values shown for an existing profile.
func profileForm(identity *models.Identity) map[string]string {
	p := identity.Profile
	form := map[string]string{
		"username":   identity.Username,
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"email":      p.Email,
		"phone":      p.Phone,
		"address":    p.Address,
		"gender":     p.Gender,
	}
	if !p.BirthDate.IsZero() {
		form["birth_date"] = p.BirthDate.Format(time.DateOnly)
	}
	return form
}

// parseProfile builds a profile from form values. Only the birth date is
// checked here; the other fields are validated by the credentials service.
func parseProfile(form map[string]string, now time.Time) (models.Profile, validate.Errors) {
	var errs validate.Errors

	birthDate, msg := validate.BirthDate(form["birth_date"], now)
	errs.Add(msg)

	return models.Profile{
		FirstName: form["first_name"],
		LastName:  form["last_name"],
		Email:     form["email"],
		Phone:     form["phone"],
		BirthDate: birthDate,
		Address:   form["address"],
		Gender:    form["gender"],
	}, errs
}

// formErrors turns a service error into messages for the form, or reports
// false when err is not caused by the submitted input.
func formErrors(err error) ([]string, bool) {
	var msgs []string

	var verrs validate.Errors
	if errors.As(err, &verrs) {
		msgs = append(msgs, verrs...)
	}
	if errors.Is(err, store.ErrUsernameTaken) {
		msgs = append(msgs, "That username is already taken.")
	}
	if errors.Is(err, store.ErrEmailTaken) {
		msgs = append(msgs, "That email address is already registered.")
	}
	if errors.Is(err, credentials.ErrInvalidCredentials) {
		msgs = append(msgs, "Current password is incorrect.")
	}
	return msgs, len(msgs) > 0
}

// fail renders page again with the problems of err, or the error page when
// err is not the user's fault.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, page string, data view.PageData, err error) {
	if msgs, ok := formErrors(err); ok {
		data.Errors = append(data.Errors, msgs...)
		s.login.Render(w, r, http.StatusUnprocessableEntity, page, data)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrIdentityNotFound):
		status = http.StatusNotFound
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("page", page).Msg("Request failed")
	s.login.RenderError(w, r, status)
}

func (s *Server) registerPage(w http.ResponseWriter, r *http.Request) {
	if sess := session.FromContext(r.Context()); sess.Authenticated() {
		http.Redirect(w, r, login.HomePath(sess.Role), http.StatusFound)
		return
	}
	s.login.Render(w, r, http.StatusOK, view.PageRegister, view.PageData{Title: "Register"})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	form := readForm(r, append([]string{"username"}, profileFields...)...)
	data := view.PageData{Title: "Register", Form: form}

	profile, errs := parseProfile(form, s.now())
	password := r.PostFormValue("password")

	req := credentials.NewIdentity{
		Username: form["username"],
		Password: password,
		Role:     models.RoleUser,
		Profile:  profile,
	}
	errs = append(req.Validate(), errs...)
	errs.Add(validate.PasswordConfirmation(password, r.PostFormValue("password_confirmation")))
	if !errs.Empty() {
		s.fail(w, r, view.PageRegister, data, errs)
		return
	}

	if _, err := s.credentials.CreateIdentity(r.Context(), req); err != nil {
		s.fail(w, r, view.PageRegister, data, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("username", req.Username).Msg("Account registered")
	http.Redirect(w, r, login.LoginPath+"?registered=1", http.StatusSeeOther)
}

// currentIdentity loads the identity of the logged in session.
func (s *Server) currentIdentity(r *http.Request) (*models.Identity, error) {
	return s.credentials.Get(r.Context(), session.FromContext(r.Context()).IdentityID)
}

func (s *Server) profilePage(w http.ResponseWriter, r *http.Request) {
	identity, err := s.currentIdentity(r)
	if err != nil {
		s.fail(w, r, view.PageProfile, view.PageData{}, err)
		return
	}

	data := view.PageData{Title: "My account", Form: profileForm(identity)}
	if r.URL.Query().Has("saved") {
		data.Notice = "Your profile was saved."
	}
	s.login.Render(w, r, http.StatusOK, view.PageProfile, data)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	form := readForm(r, profileFields...)
	form["username"] = sess.Username
	data := view.PageData{Title: "My account", Form: form}

	profile, errs := parseProfile(form, s.now())
	if errs = append(validate.Profile(profile), errs...); !errs.Empty() {
		s.fail(w, r, view.PageProfile, data, errs)
		return
	}

	identity, err := s.credentials.UpdateProfile(ctx, sess.IdentityID, profile)
	if err != nil {
		s.fail(w, r, view.PageProfile, data, err)
		return
	}

	// Reissue the session so its display name snapshot follows the edit.
	fresh, err := s.sessions.Authenticate(ctx, sess.ID, identity, session.MetaFromRequest(r))
	if err != nil {
		s.fail(w, r, view.PageProfile, data, err)
		return
	}
	s.sessions.SetCookie(w, fresh)

	http.Redirect(w, r, "/account?saved=1", http.StatusSeeOther)
}

func (s *Server) passwordPage(w http.ResponseWriter, r *http.Request) {
	data := view.PageData{Title: "Change password"}
	if r.URL.Query().Has("changed") {
		data.Notice = "Your password was changed."
	}
	s.login.Render(w, r, http.StatusOK, view.PagePassword, data)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	data := view.PageData{Title: "Change password"}

	current := r.PostFormValue("current_password")
	next := r.PostFormValue("password")

	var errs validate.Errors
	errs.Add(validate.Password(next))
	errs.Add(validate.PasswordConfirmation(next, r.PostFormValue("password_confirmation")))
	if !errs.Empty() {
		s.fail(w, r, view.PagePassword, data, errs)
		return
	}

	if err := s.credentials.ChangeSecret(r.Context(), sess.IdentityID, current, next); err != nil {
		s.fail(w, r, view.PagePassword, data, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().Int64("identity_id", sess.IdentityID).Msg("Password changed by owner")
	http.Redirect(w, r, "/account/password?changed=1", http.StatusSeeOther)
}
