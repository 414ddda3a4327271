// Package website assembles the HTTP surface of the site: the account and
// administration pages plus the middleware chain every request goes through.
package website

import (
	"context"
	"net/http"
	"strings"
	"time"

	crossorigin "filippo.io/csrf"
	"github.com/elgarage/garage/internal/authz"
	"github.com/elgarage/garage/internal/credentials"
	"github.com/elgarage/garage/internal/csrf"
	httpmw "github.com/elgarage/garage/internal/http"
	"github.com/elgarage/garage/internal/logger"
	"github.com/elgarage/garage/internal/login"
	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/session"
	"github.com/elgarage/garage/internal/view"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds what NewRouter needs.
type Config struct {
	Credentials *credentials.Service
	Sessions    *session.Manager
	Guard       *csrf.Guard
	Views       login.Renderer

	// CORSOrigins may call the JSON API with credentials.
	CORSOrigins []string
	// TrustedOrigins may submit HTML forms cross-origin.
	TrustedOrigins []string
	// Ready reports whether backing stores answer. Nil means always ready.
	Ready func(ctx context.Context) error
	// Tracing wraps the router in otelhttp.
	Tracing bool
}

// Server holds the page handlers.
type Server struct {
	credentials *credentials.Service
	sessions    *session.Manager
	login       *login.Handler
	ready       func(ctx context.Context) error
	now         func() time.Time
}

// NewRouter builds the complete handler.
func NewRouter(cfg Config) (http.Handler, error) {
	loginHandler := login.NewHandler(cfg.Credentials, cfg.Sessions, cfg.Guard, cfg.Views)

	s := &Server{
		credentials: cfg.Credentials,
		sessions:    cfg.Sessions,
		login:       loginHandler,
		ready:       cfg.Ready,
		now:         time.Now,
	}

	requireUser := authz.RequireRoleHandler(models.RoleUser, login.LoginPath, login.PublicPath)
	requireAdmin := authz.RequireRoleHandler(models.RoleAdmin, login.LoginPath, login.PublicPath)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("GET /healthz", s.healthz)

	mux.HandleFunc("GET "+login.LoginPath, loginHandler.LoginPage)
	mux.HandleFunc("POST "+login.LoginPath, loginHandler.Login)
	mux.HandleFunc("POST "+login.LogoutPath, loginHandler.Logout)
	mux.HandleFunc("GET "+login.SessionPath, loginHandler.Session)

	mux.HandleFunc("GET /register", s.registerPage)
	mux.HandleFunc("POST /register", s.register)

	mux.Handle("GET /account", requireUser(http.HandlerFunc(s.profilePage)))
	mux.Handle("POST /account", requireUser(http.HandlerFunc(s.updateProfile)))
	mux.Handle("GET /account/password", requireUser(http.HandlerFunc(s.passwordPage)))
	mux.Handle("POST /account/password", requireUser(http.HandlerFunc(s.changePassword)))

	mux.Handle("GET /admin", requireAdmin(http.HandlerFunc(s.adminDashboard)))
	mux.Handle("GET /admin/users", requireAdmin(http.HandlerFunc(s.adminUsers)))
	mux.Handle("POST /admin/users", requireAdmin(http.HandlerFunc(s.adminCreateUser)))
	mux.Handle("GET /admin/users/{id}", requireAdmin(http.HandlerFunc(s.adminEditUserPage)))
	mux.Handle("POST /admin/users/{id}", requireAdmin(http.HandlerFunc(s.adminEditUser)))
	mux.Handle("POST /admin/users/{id}/role", requireAdmin(http.HandlerFunc(s.adminChangeRole)))
	mux.Handle("POST /admin/users/{id}/delete", requireAdmin(http.HandlerFunc(s.adminDeleteUser)))

	protected := cfg.Guard.Protect(mux)

	// Cross-origin form posts are refused on HTML routes; the JSON API
	// instead answers CORS for the configured origins.
	protection := crossorigin.New()
	for _, origin := range cfg.TrustedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, err
		}
	}
	html := protection.Handler(protected)
	api := withCORS(cfg.CORSOrigins, protected)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			api.ServeHTTP(w, r)
		} else {
			html.ServeHTTP(w, r)
		}
	})

	handler = cfg.Sessions.Middleware(handler)
	handler = httpmw.SecurityHeaders()(handler)
	handler = logger.HTTPRequests(log.Logger)(handler)
	handler = httpmw.ClientIPMiddleware()(handler)
	handler = httpmw.RequestIDMiddleware()(handler)

	if cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "garage")
	}

	return handler, nil
}

// isAPIRoute returns true if the path is an API route that needs CORS instead of cross-origin protection
func isAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// withCORS adds CORS support to the JSON API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", csrf.HeaderName},
		ExposedHeaders:   []string{httpmw.RequestIDHeader},
		AllowCredentials: true, // Required for cookie-based sessions
	})
	return middleware.Handler(h)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.login.Render(w, r, http.StatusOK, view.PageIndex, view.PageData{})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
