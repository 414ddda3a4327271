package memory

import (
	"context"
	"testing"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestIdentity(username, email string, role models.Role) *models.Identity {
	return &models.Identity{
		Username: username,
		Role:     role,
		Profile: models.Profile{
			FirstName: "Test",
			LastName:  "User",
			Email:     email,
		},
		PasswordHash: "hash",
	}
}

func TestIdentityStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns sequential ids", func(t *testing.T) {
		st := NewIdentityStore()

		a := newTestIdentity("alice", "alice@example.com", models.RoleUser)
		b := newTestIdentity("bob", "bob@example.com", models.RoleAdmin)
		require.NoError(t, st.Create(ctx, a))
		require.NoError(t, st.Create(ctx, b))

		require.Equal(t, int64(1), a.ID)
		require.Equal(t, int64(2), b.ID)
		require.False(t, a.CreatedAt.IsZero())
	})

	t.Run("duplicate username is case insensitive", func(t *testing.T) {
		st := NewIdentityStore()
		require.NoError(t, st.Create(ctx, newTestIdentity("alice", "alice@example.com", models.RoleUser)))

		err := st.Create(ctx, newTestIdentity("ALICE", "other@example.com", models.RoleUser))
		require.ErrorIs(t, err, store.ErrUsernameTaken)
		require.ErrorIs(t, err, store.ErrDuplicateIdentity)
		require.NotErrorIs(t, err, store.ErrEmailTaken)
	})

	t.Run("both conflicts reported", func(t *testing.T) {
		st := NewIdentityStore()
		require.NoError(t, st.Create(ctx, newTestIdentity("alice", "alice@example.com", models.RoleUser)))

		err := st.Create(ctx, newTestIdentity("alice", "Alice@Example.com", models.RoleUser))
		require.ErrorIs(t, err, store.ErrUsernameTaken)
		require.ErrorIs(t, err, store.ErrEmailTaken)
	})
}

func TestIdentityStore_Lookups(t *testing.T) {
	ctx := context.Background()
	st := NewIdentityStore()

	alice := newTestIdentity("alice", "alice@example.com", models.RoleUser)
	require.NoError(t, st.Create(ctx, alice))

	got, err := st.GetByUsername(ctx, "Alice")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)

	got, err = st.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)

	_, err = st.Get(ctx, 99)
	require.ErrorIs(t, err, store.ErrIdentityNotFound)

	_, err = st.GetByUsername(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrIdentityNotFound)
}

func TestIdentityStore_Update(t *testing.T) {
	ctx := context.Background()
	st := NewIdentityStore()

	alice := newTestIdentity("alice", "alice@example.com", models.RoleUser)
	bob := newTestIdentity("bob", "bob@example.com", models.RoleUser)
	require.NoError(t, st.Create(ctx, alice))
	require.NoError(t, st.Create(ctx, bob))

	t.Run("keeping own email is allowed", func(t *testing.T) {
		update := alice.Clone()
		update.Profile.Phone = "6000000"
		require.NoError(t, st.Update(ctx, update))

		got, err := st.Get(ctx, alice.ID)
		require.NoError(t, err)
		require.Equal(t, "6000000", got.Profile.Phone)
	})

	t.Run("taking another email is rejected", func(t *testing.T) {
		update := alice.Clone()
		update.Profile.Email = "bob@example.com"
		require.ErrorIs(t, st.Update(ctx, update), store.ErrEmailTaken)
	})

	t.Run("rename frees the old username", func(t *testing.T) {
		update := alice.Clone()
		update.Username = "alice2"
		require.NoError(t, st.Update(ctx, update))

		_, err := st.GetByUsername(ctx, "alice")
		require.ErrorIs(t, err, store.ErrIdentityNotFound)

		got, err := st.GetByUsername(ctx, "alice2")
		require.NoError(t, err)
		require.Equal(t, alice.ID, got.ID)
	})
}

func TestIdentityStore_RoleAndDelete(t *testing.T) {
	ctx := context.Background()
	st := NewIdentityStore()

	alice := newTestIdentity("alice", "alice@example.com", models.RoleUser)
	require.NoError(t, st.Create(ctx, alice))

	require.ErrorIs(t, st.UpdateRole(ctx, alice.ID, models.Role(0)), models.ErrInvalidRole)
	require.NoError(t, st.UpdateRole(ctx, alice.ID, models.RoleAdmin))

	counts, err := st.CountByRole(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[models.RoleAdmin])
	require.Equal(t, 0, counts[models.RoleUser])

	admins, err := st.List(ctx, store.ListIdentitiesOptions{Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, admins, 1)

	require.NoError(t, st.Delete(ctx, alice.ID))
	require.ErrorIs(t, st.Delete(ctx, alice.ID), store.ErrIdentityNotFound)

	_, err = st.GetByEmail(ctx, "alice@example.com")
	require.ErrorIs(t, err, store.ErrIdentityNotFound)
}
