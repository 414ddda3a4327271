package login

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/elgarage/garage/internal/credentials"
	"github.com/elgarage/garage/internal/csrf"
	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/session"
	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/store/memory"
	"github.com/elgarage/garage/internal/view"
	"github.com/stretchr/testify/require"
)

var tokenPattern = regexp.MustCompile(`name="csrf_token" value="([0-9a-f]{64})"`)

type testEnv struct {
	handler  http.Handler
	sessions *session.Manager
	cookies  map[string]*http.Cookie
}

func newTestEnv(t *testing.T, auth Authenticator) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, auth, memory.NewSessionStore())
}

func newTestEnvWithStore(t *testing.T, auth Authenticator, sessionStore store.SessionStore) *testEnv {
	t.Helper()

	sessions, err := session.NewManager(sessionStore, session.Config{})
	require.NoError(t, err)
	guard := csrf.NewGuard(sessionStore, time.Second)
	views, err := view.New()
	require.NoError(t, err)

	h := NewHandler(auth, sessions, guard, views)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+LoginPath, h.LoginPage)
	mux.HandleFunc("POST "+LoginPath, h.Login)
	mux.HandleFunc("POST "+LogoutPath, h.Logout)
	mux.HandleFunc("GET "+SessionPath, h.Session)

	return &testEnv{
		handler:  sessions.Middleware(guard.Protect(mux)),
		sessions: sessions,
		cookies:  make(map[string]*http.Cookie),
	}
}

func newTestCredentials(t *testing.T) *credentials.Service {
	t.Helper()
	return newTestCredentialsIn(t, memory.NewIdentityStore())
}

func newTestCredentialsIn(t *testing.T, identities *memory.IdentityStore) *credentials.Service {
	t.Helper()
	hasher, err := credentials.NewHasher(credentials.Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32, SaltLen: 16})
	require.NoError(t, err)
	svc := credentials.NewService(identities, hasher, time.Second)

	for _, id := range []credentials.NewIdentity{
		{Username: "alice", Password: "Passw0rd!", Role: models.RoleUser, Profile: models.Profile{
			FirstName: "Alice", LastName: "Martín", Email: "alice@example.com", Phone: "600123456", Gender: models.GenderFemale,
		}},
		{Username: "admin", Password: "Adm1nPass", Role: models.RoleAdmin, Profile: models.Profile{
			FirstName: "Garage", LastName: "Admin", Email: "admin@example.com", Phone: "600000000", Gender: models.GenderOther,
		}},
	} {
		_, err := svc.CreateIdentity(context.Background(), id)
		require.NoError(t, err)
	}
	return svc
}

// do sends req with the stored cookies and keeps the ones set in reply.
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(e.cookies, c.Name)
			continue
		}
		e.cookies[c.Name] = c
	}
	return rec
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func (e *testEnv) sessionID() string {
	if c, ok := e.cookies[session.DefaultCookieName]; ok {
		return c.Value
	}
	return ""
}

func formToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	m := tokenPattern.FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2, "page must carry a csrf token")
	return m[1]
}

func (e *testEnv) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	page := e.get(LoginPath)
	require.Equal(t, http.StatusOK, page.Code)
	return e.post(LoginPath, url.Values{
		"csrf_token": {formToken(t, page)},
		"username":   {username},
		"password":   {password},
	})
}

func TestLogin_Success(t *testing.T) {
	tests := []struct {
		username string
		password string
		home     string
	}{
		{"alice", "Passw0rd!", UserHome},
		{"admin", "Adm1nPass", AdminHome},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			env := newTestEnv(t, newTestCredentials(t))

			page := env.get(LoginPath)
			anonymousID := env.sessionID()
			require.NotEmpty(t, anonymousID)

			rec := env.post(LoginPath, url.Values{
				"csrf_token": {formToken(t, page)},
				"username":   {tt.username},
				"password":   {tt.password},
			})

			require.Equal(t, http.StatusSeeOther, rec.Code)
			require.Equal(t, tt.home, rec.Header().Get("Location"))

			// The pre-login identifier is replaced and no longer resolves.
			require.NotEqual(t, anonymousID, env.sessionID())
			_, err := env.sessions.Lookup(context.Background(), anonymousID)
			require.ErrorIs(t, err, session.ErrNoSession)

			sess, err := env.sessions.Lookup(context.Background(), env.sessionID())
			require.NoError(t, err)
			require.Equal(t, tt.username, sess.Username)

			// Logged in users visiting the form go home.
			again := env.get(LoginPath)
			require.Equal(t, http.StatusFound, again.Code)
			require.Equal(t, tt.home, again.Header().Get("Location"))
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		message  string
	}{
		{"wrong password", "alice", "WrongPass1", invalidCredentialsMessage},
		{"unknown user", "nobody", "Passw0rd!", invalidCredentialsMessage},
		{"malformed username", "a!", "Passw0rd!", invalidCredentialsMessage},
		{"missing password", "alice", "", "Username and password are required."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, newTestCredentials(t))

			rec := env.login(t, tt.username, tt.password)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			require.Contains(t, rec.Body.String(), tt.message)
			formToken(t, rec)

			sess, err := env.sessions.Lookup(context.Background(), env.sessionID())
			require.NoError(t, err)
			require.False(t, sess.Authenticated())
		})
	}
}

func TestLogin_RequiresCSRFToken(t *testing.T) {
	env := newTestEnv(t, newTestCredentials(t))
	env.get(LoginPath)

	rec := env.post(LoginPath, url.Values{"username": {"alice"}, "password": {"Passw0rd!"}})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.post(LoginPath, url.Values{
		"csrf_token": {strings.Repeat("a", 64)},
		"username":   {"alice"},
		"password":   {"Passw0rd!"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

type unavailableAuthenticator struct{}

func (unavailableAuthenticator) VerifyCredentials(context.Context, string, string) (*models.Identity, error) {
	return nil, errors.Join(store.ErrStoreUnavailable, errors.New("connection refused"))
}

func TestLogin_StoreUnavailable(t *testing.T) {
	env := newTestEnv(t, unavailableAuthenticator{})

	rec := env.login(t, "alice", "Passw0rd!")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// deletingAuthenticator removes the identity right after the password
// check, as an admin deleting the account mid-login would.
type deletingAuthenticator struct {
	creds *credentials.Service
}

func (a deletingAuthenticator) VerifyCredentials(ctx context.Context, username, password string) (*models.Identity, error) {
	identity, err := a.creds.VerifyCredentials(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return identity, a.creds.Delete(ctx, identity.ID)
}

func TestLogin_IdentityDeletedDuringLogin(t *testing.T) {
	identities := memory.NewIdentityStore()
	creds := newTestCredentialsIn(t, identities)
	env := newTestEnvWithStore(t, deletingAuthenticator{creds: creds}, memory.NewSessionStoreFor(identities))

	page := env.get(LoginPath)
	anonymousID := env.sessionID()

	rec := env.post(LoginPath, url.Values{
		"csrf_token": {formToken(t, page)},
		"username":   {"alice"},
		"password":   {"Passw0rd!"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), invalidCredentialsMessage)
	formToken(t, rec)

	_, err := env.sessions.Lookup(context.Background(), anonymousID)
	require.ErrorIs(t, err, session.ErrNoSession)

	sess, err := env.sessions.Lookup(context.Background(), env.sessionID())
	require.NoError(t, err)
	require.False(t, sess.Authenticated())
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, newTestCredentials(t))

	rec := env.login(t, "alice", "Passw0rd!")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	sessionID := env.sessionID()

	info := env.get(SessionPath)
	var body SessionInfo
	require.NoError(t, json.Unmarshal(info.Body.Bytes(), &body))
	token := body.CSRFToken

	// Logout is state changing and needs the token.
	rec = env.post(LogoutPath, url.Values{})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.post(LogoutPath, url.Values{"csrf_token": {token}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, PublicPath, rec.Header().Get("Location"))
	require.Empty(t, env.sessionID(), "cookie is cleared")

	_, err := env.sessions.Lookup(context.Background(), sessionID)
	require.ErrorIs(t, err, session.ErrNoSession)

	// The old token died with the session.
	env.cookies[session.DefaultCookieName] = &http.Cookie{Name: session.DefaultCookieName, Value: sessionID}
	rec = env.post(LogoutPath, url.Values{"csrf_token": {token}})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionInfo(t *testing.T) {
	env := newTestEnv(t, newTestCredentials(t))

	rec := env.get(SessionPath)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var anon SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &anon))
	require.False(t, anon.Authenticated)
	require.Len(t, anon.CSRFToken, 64)

	rec = env.post(LoginPath, url.Values{
		"csrf_token": {anon.CSRFToken},
		"username":   {"alice"},
		"password":   {"Passw0rd!"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = env.get(SessionPath)
	var info SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.True(t, info.Authenticated)
	require.Equal(t, "alice", info.Username)
	require.Equal(t, "Alice Martín", info.DisplayName)
	require.Equal(t, "user", info.Role)
	require.NotEqual(t, anon.CSRFToken, info.CSRFToken, "a new session gets a new token")
}

func TestHomePath(t *testing.T) {
	require.Equal(t, AdminHome, HomePath(models.RoleAdmin))
	require.Equal(t, UserHome, HomePath(models.RoleUser))
}
