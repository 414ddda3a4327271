package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elgarage/garage/internal/credentials"
	"github.com/elgarage/garage/internal/csrf"
	"github.com/elgarage/garage/internal/logger"
	"github.com/elgarage/garage/internal/session"
	"github.com/elgarage/garage/internal/store"
	memorystore "github.com/elgarage/garage/internal/store/memory"
	postgresstore "github.com/elgarage/garage/internal/store/postgres"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/elgarage/garage/internal/view"
	"github.com/elgarage/garage/internal/website"
	"golang.org/x/sync/errgroup"
)

type WebsiteCmd struct {
	// Server configuration
	Listen string `help:"HTTPS listen address" default:"0.0.0.0:443" env:"GARAGE_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"GARAGE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"GARAGE_TLS_KEY"`

	CORSOrigins    []string `help:"origins allowed to call the JSON API with credentials" default:"https://localhost" env:"GARAGE_CORS_ORIGINS"`
	TrustedOrigins []string `help:"extra origins allowed to submit forms" env:"GARAGE_TRUSTED_ORIGINS"`

	ShutdownTimeout time.Duration `help:"time allowed for in-flight requests on shutdown" default:"15s" env:"GARAGE_SHUTDOWN_TIMEOUT"`

	Tracing     bool    `help:"enable tracing and metrics export" default:"false" env:"GARAGE_TRACING"`
	SampleRatio float64 `help:"fraction of root spans sampled when tracing" default:"0.1" env:"GARAGE_TRACE_SAMPLE_RATIO"`

	// Users to create on startup
	SeedFile string `help:"YAML file of identities created on startup when missing" default:"" env:"GARAGE_SEED_FILE"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"GARAGE_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
	Session       SessionFlags       `embed:"" prefix:"session-"`
	Argon2        Argon2Flags        `embed:"" prefix:"argon2-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"GARAGE_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type SessionFlags struct {
	CookieName    string        `help:"session cookie name" default:"_session" env:"GARAGE_SESSION_COOKIE"`
	TTL           time.Duration `help:"lifetime of a logged in session" default:"24h" env:"GARAGE_SESSION_TTL"`
	AnonymousTTL  time.Duration `help:"lifetime of an anonymous session" default:"1h" env:"GARAGE_SESSION_ANONYMOUS_TTL"`
	IdleTimeout   time.Duration `help:"end sessions unused for this long (0 disables)" default:"2h" env:"GARAGE_SESSION_IDLE_TIMEOUT"`
	SweepInterval time.Duration `help:"how often expired sessions are deleted (0 disables)" default:"10m" env:"GARAGE_SESSION_SWEEP_INTERVAL"`
	StoreTimeout  time.Duration `help:"deadline for each store call" default:"3s" env:"GARAGE_STORE_TIMEOUT"`
}

func (s *SessionFlags) config() session.Config {
	return session.Config{
		CookieName:   s.CookieName,
		TTL:          s.TTL,
		AnonymousTTL: s.AnonymousTTL,
		IdleTimeout:  s.IdleTimeout,
		StoreTimeout: s.StoreTimeout,
	}
}

type Argon2Flags struct {
	Time    uint32 `help:"argon2id iterations" default:"1"`
	Memory  uint32 `help:"argon2id memory in KiB" default:"65536"`
	Threads uint8  `help:"argon2id parallelism" default:"4"`
}

func (a *Argon2Flags) params() credentials.Params {
	p := credentials.DefaultParams
	p.Time = a.Time
	p.Memory = a.Memory
	p.Threads = a.Threads
	return p
}

type stores struct {
	identities store.IdentityStore
	sessions   store.SessionStore
	ready      func(ctx context.Context) error
	close      func()
}

func (c *WebsiteCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("dev", globals.Dev).Msg("Starting server")

	// Validate TLS certificates
	if c.Cert == "" || c.Key == "" {
		return errors.New("TLS certificate and key are required (--cert and --key)")
	}
	if _, err := os.Stat(c.Cert); err != nil {
		return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
	}
	if _, err := os.Stat(c.Key); err != nil {
		return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
	}

	if c.Tracing {
		log.Info().Float64("sample_ratio", c.SampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "garage", globals.Version, c.SampleRatio)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	st, err := c.createStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()
	log.Info().Str("store", c.StoreType).Msg("Stores ready")

	hasher, err := credentials.NewHasher(c.Argon2.params())
	if err != nil {
		return fmt.Errorf("failed to configure password hashing: %w", err)
	}
	creds := credentials.NewService(st.identities, hasher, c.Session.StoreTimeout)

	if c.SeedFile != "" {
		created, err := creds.SeedFromFile(ctx, c.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to seed identities: %w", err)
		}
		log.Info().Int("created", created).Str("file", c.SeedFile).Msg("Seeded identities")
	}

	sessions, err := session.NewManager(st.sessions, c.Session.config())
	if err != nil {
		return fmt.Errorf("failed to configure sessions: %w", err)
	}

	sweeper := session.NewSweeper(st.sessions, c.Session.SweepInterval, c.Session.StoreTimeout)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	views, err := view.New()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	handler, err := website.NewRouter(website.Config{
		Credentials:    creds,
		Sessions:       sessions,
		Guard:          csrf.NewGuard(st.sessions, c.Session.StoreTimeout),
		Views:          views,
		CORSOrigins:    c.CORSOrigins,
		TrustedOrigins: c.TrustedOrigins,
		Ready:          st.ready,
		Tracing:        c.Tracing,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	srv := configureHTTPServer(c.Listen, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", c.Listen).Str("store", c.StoreType).Msg("Starting HTTPS server")
		if err := srv.ListenAndServeTLS(c.Cert, c.Key); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// createStores opens the identity and session stores selected by --store-type.
func (c *WebsiteCmd) createStores(ctx context.Context) (*stores, error) {
	if c.StoreType != "postgres" {
		return memoryStores(), nil
	}

	if err := c.PostgresStore.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate postgres flags: %w", err)
	}

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:      c.PostgresStore.ConnString,
		MaxConns:        c.PostgresStore.MaxConns,
		MinConns:        c.PostgresStore.MinConns,
		MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
		MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		AutoMigrate:     c.PostgresStore.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store pool: %w", err)
	}

	return &stores{
		identities: postgresstore.NewIdentityStore(pool),
		sessions:   postgresstore.NewSessionStore(pool),
		ready:      pool.Ping,
		close:      pool.Close,
	}, nil
}

func memoryStores() *stores {
	identities := memorystore.NewIdentityStore()
	return &stores{
		identities: identities,
		sessions:   memorystore.NewSessionStoreFor(identities),
		close:      func() {},
	}
}
