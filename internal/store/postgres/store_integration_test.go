//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString:  fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		AutoMigrate: true,
	})
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func testIdentity(username, email string) *models.Identity {
	return &models.Identity{
		Username:     username,
		Role:         models.RoleUser,
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		Profile: models.Profile{
			FirstName: "Ana",
			LastName:  "García",
			Email:     email,
			Phone:     "600123456",
			BirthDate: time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC),
			Gender:    models.GenderFemale,
		},
	}
}

func TestIntegration_Stores(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	identities := NewIdentityStore(pool)
	sessions := NewSessionStore(pool)

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, Migrate(ctx, pool))

		var count int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&count))
		require.Equal(t, 2, count)
	})

	alice := testIdentity("alice", "alice@example.com")

	t.Run("create and read identity", func(t *testing.T) {
		require.NoError(t, identities.Create(ctx, alice))
		require.NotZero(t, alice.ID)

		got, err := identities.GetByUsername(ctx, "ALICE")
		require.NoError(t, err)
		require.Equal(t, alice.ID, got.ID)
		require.Equal(t, models.RoleUser, got.Role)
		require.Equal(t, "García", got.Profile.LastName)
		require.Equal(t, 1990, got.Profile.BirthDate.Year())

		got, err = identities.GetByEmail(ctx, "Alice@Example.com")
		require.NoError(t, err)
		require.Equal(t, alice.ID, got.ID)
	})

	t.Run("duplicates map to sentinel errors", func(t *testing.T) {
		err := identities.Create(ctx, testIdentity("Alice", "fresh@example.com"))
		require.ErrorIs(t, err, store.ErrUsernameTaken)

		err = identities.Create(ctx, testIdentity("fresh", "ALICE@example.com"))
		require.ErrorIs(t, err, store.ErrEmailTaken)

		// the failed transaction must not leave a profile behind
		_, err = identities.GetByEmail(ctx, "fresh@example.com")
		require.ErrorIs(t, err, store.ErrIdentityNotFound)
	})

	t.Run("update role and hash", func(t *testing.T) {
		require.NoError(t, identities.UpdateRole(ctx, alice.ID, models.RoleAdmin))
		require.NoError(t, identities.UpdatePasswordHash(ctx, alice.ID, "new-hash"))

		got, err := identities.Get(ctx, alice.ID)
		require.NoError(t, err)
		require.Equal(t, models.RoleAdmin, got.Role)
		require.Equal(t, "new-hash", got.PasswordHash)

		counts, err := identities.CountByRole(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, counts[models.RoleAdmin])

		require.ErrorIs(t, identities.UpdateRole(ctx, 9999, models.RoleUser), store.ErrIdentityNotFound)
	})

	t.Run("session lifecycle", func(t *testing.T) {
		now := time.Now()
		sess := &models.Session{
			ID:          "session-one",
			IdentityID:  alice.ID,
			Username:    "alice",
			DisplayName: "Ana García",
			Role:        models.RoleUser,
			CreatedAt:   now,
			ExpiresAt:   now.Add(time.Hour),
			LastUsedAt:  now,
			IPAddress:   "192.0.2.10",
		}
		require.NoError(t, sessions.Create(ctx, sess))

		got, err := sessions.Get(ctx, "session-one")
		require.NoError(t, err)
		require.Equal(t, alice.ID, got.IdentityID)
		require.Equal(t, models.RoleUser, got.Role)
		require.Equal(t, "192.0.2.10", got.IPAddress)
		require.Empty(t, got.CSRFToken)

		require.NoError(t, sessions.UpdateLastUsed(ctx, "session-one", now.Add(time.Minute)))
		require.NoError(t, sessions.Delete(ctx, "session-one"))
		require.ErrorIs(t, sessions.Delete(ctx, "session-one"), store.ErrSessionNotFound)
	})

	t.Run("concurrent csrf issuance agrees on one token", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, sessions.Create(ctx, &models.Session{
			ID:         "anon",
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Hour),
			LastUsedAt: now,
		}))

		const workers = 16
		tokens := make([]string, workers)
		errs := make([]error, workers)

		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tokens[i], errs[i] = sessions.GetOrCreateCSRFToken(ctx, "anon", fmt.Sprintf("candidate-%d", i))
			}()
		}
		wg.Wait()

		for i := range workers {
			require.NoError(t, errs[i])
			require.Equal(t, tokens[0], tokens[i])
		}

		_, err := sessions.GetOrCreateCSRFToken(ctx, "missing", "x")
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("expired sessions are hidden and swept", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		require.NoError(t, sessions.Create(ctx, &models.Session{
			ID:         "stale",
			CreatedAt:  past,
			ExpiresAt:  past.Add(time.Minute),
			LastUsedAt: past,
		}))

		_, err := sessions.Get(ctx, "stale")
		require.ErrorIs(t, err, store.ErrSessionExpired)

		count, err := sessions.DeleteExpired(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, count, 1)
	})

	t.Run("deleting an identity cascades to its sessions", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, sessions.Create(ctx, &models.Session{
			ID:         "alice-2",
			IdentityID: alice.ID,
			Role:       models.RoleAdmin,
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Hour),
			LastUsedAt: now,
		}))

		require.NoError(t, identities.Delete(ctx, alice.ID))

		_, err := sessions.Get(ctx, "alice-2")
		require.ErrorIs(t, err, store.ErrSessionNotFound)

		_, err = identities.Get(ctx, alice.ID)
		require.ErrorIs(t, err, store.ErrIdentityNotFound)
	})
}
