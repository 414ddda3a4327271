package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var _ store.IdentityStore = (*IdentityStore)(nil)

// IdentityStore implements store.IdentityStore using PostgreSQL.
type IdentityStore struct {
	pool *pgxpool.Pool
}

// NewIdentityStore creates a new PostgreSQL-backed identity store.
func NewIdentityStore(pool *pgxpool.Pool) *IdentityStore {
	return &IdentityStore{pool: pool}
}

const selectIdentity = `
	SELECT
		p.identity_id, c.username, c.password_hash, c.role,
		p.first_name, p.last_name, p.email, p.phone,
		p.birth_date, p.address, p.gender,
		p.created_at, GREATEST(p.updated_at, c.updated_at)
	FROM identity_profiles p
	JOIN identity_credentials c ON c.identity_id = p.identity_id
`

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var (
		identity  models.Identity
		role      string
		birthDate *time.Time
	)

	err := row.Scan(
		&identity.ID,
		&identity.Username,
		&identity.PasswordHash,
		&role,
		&identity.Profile.FirstName,
		&identity.Profile.LastName,
		&identity.Profile.Email,
		&identity.Profile.Phone,
		&birthDate,
		&identity.Profile.Address,
		&identity.Profile.Gender,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	identity.Role, err = models.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("identity %d: %w", identity.ID, err)
	}

	if birthDate != nil {
		identity.Profile.BirthDate = *birthDate
	}

	return &identity, nil
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Create inserts the profile and credential rows in one transaction.
func (s *IdentityStore) Create(ctx context.Context, identity *models.Identity) error {
	if !identity.Role.Valid() {
		return models.ErrInvalidRole
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO identity_profiles (
				first_name, last_name, email, phone, birth_date, address, gender
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING identity_id, created_at
		`,
			identity.Profile.FirstName,
			identity.Profile.LastName,
			identity.Profile.Email,
			identity.Profile.Phone,
			nullableDate(identity.Profile.BirthDate),
			identity.Profile.Address,
			identity.Profile.Gender,
		).Scan(&identity.ID, &identity.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO identity_credentials (identity_id, username, password_hash, role)
			VALUES ($1, $2, $3, $4)
		`, identity.ID, identity.Username, identity.PasswordHash, identity.Role.String())
		return err
	})
	if err != nil {
		identity.ID = 0
		return fmt.Errorf("failed to create identity: %w", mapPostgresError(err))
	}

	identity.UpdatedAt = identity.CreatedAt

	log.Debug().
		Int64("identity_id", identity.ID).
		Str("role", identity.Role.String()).
		Msg("Created identity")

	return nil
}

func (s *IdentityStore) getOne(ctx context.Context, op, where string, arg any) (*models.Identity, error) {
	identity, err := withRetry(ctx, op, func() (*models.Identity, error) {
		return scanIdentity(s.pool.QueryRow(ctx, selectIdentity+where, arg))
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, nil
}

// Get retrieves an identity by ID.
func (s *IdentityStore) Get(ctx context.Context, id int64) (*models.Identity, error) {
	return s.getOne(ctx, "identity.get", `WHERE p.identity_id = $1`, id)
}

// GetByUsername retrieves an identity by handle.
func (s *IdentityStore) GetByUsername(ctx context.Context, username string) (*models.Identity, error) {
	return s.getOne(ctx, "identity.get_by_username", `WHERE lower(c.username) = lower($1)`, username)
}

// GetByEmail retrieves an identity by email.
func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return s.getOne(ctx, "identity.get_by_email", `WHERE lower(p.email) = lower($1)`, email)
}

// Update replaces the username, profile and password hash of an identity in
// one transaction.
func (s *IdentityStore) Update(ctx context.Context, identity *models.Identity) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE identity_profiles SET
				first_name = $2, last_name = $3, email = $4, phone = $5,
				birth_date = $6, address = $7, gender = $8, updated_at = now()
			WHERE identity_id = $1
		`,
			identity.ID,
			identity.Profile.FirstName,
			identity.Profile.LastName,
			identity.Profile.Email,
			identity.Profile.Phone,
			nullableDate(identity.Profile.BirthDate),
			identity.Profile.Address,
			identity.Profile.Gender,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return store.ErrIdentityNotFound
		}

		_, err = tx.Exec(ctx, `
			UPDATE identity_credentials SET username = $2, password_hash = $3, updated_at = now()
			WHERE identity_id = $1
		`, identity.ID, identity.Username, identity.PasswordHash)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			return err
		}
		return fmt.Errorf("failed to update identity: %w", mapPostgresError(err))
	}

	return nil
}

func (s *IdentityStore) updateCredential(ctx context.Context, op, set string, id int64, value any) error {
	err := exec(ctx, op, func() error {
		result, err := s.pool.Exec(ctx,
			`UPDATE identity_credentials SET `+set+`, updated_at = now() WHERE identity_id = $1`,
			id, value)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return store.ErrIdentityNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrIdentityNotFound) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return err
}

// UpdatePasswordHash replaces the credential hash.
func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return s.updateCredential(ctx, "update password hash", "password_hash = $2", id, hash)
}

// UpdateRole changes the role of an identity.
func (s *IdentityStore) UpdateRole(ctx context.Context, id int64, role models.Role) error {
	if !role.Valid() {
		return models.ErrInvalidRole
	}
	return s.updateCredential(ctx, "update role", "role = $2", id, role.String())
}

// Delete removes an identity. Credentials and sessions cascade.
func (s *IdentityStore) Delete(ctx context.Context, id int64) error {
	err := exec(ctx, "identity.delete", func() error {
		result, err := s.pool.Exec(ctx, `DELETE FROM identity_profiles WHERE identity_id = $1`, id)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return store.ErrIdentityNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	log.Info().Int64("identity_id", id).Msg("Deleted identity")
	return nil
}

// List returns identities ordered by ID.
func (s *IdentityStore) List(ctx context.Context, opts store.ListIdentitiesOptions) ([]*models.Identity, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	var role any
	if opts.Role != 0 {
		role = opts.Role.String()
	}

	identities, err := withRetry(ctx, "identity.list", func() ([]*models.Identity, error) {
		rows, err := s.pool.Query(ctx, selectIdentity+`
			WHERE ($1::text IS NULL OR c.role = $1)
			ORDER BY p.identity_id
			LIMIT $2
		`, role, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var result []*models.Identity
		for rows.Next() {
			identity, err := scanIdentity(rows)
			if err != nil {
				return nil, err
			}
			result = append(result, identity)
		}
		return result, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	return identities, nil
}

// CountByRole returns the number of identities per role.
func (s *IdentityStore) CountByRole(ctx context.Context) (map[models.Role]int, error) {
	counts, err := withRetry(ctx, "identity.count_by_role", func() (map[models.Role]int, error) {
		rows, err := s.pool.Query(ctx, `SELECT role, count(*) FROM identity_credentials GROUP BY role`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		counts := make(map[models.Role]int, len(models.Roles))
		for rows.Next() {
			var (
				name  string
				count int
			)
			if err := rows.Scan(&name, &count); err != nil {
				return nil, err
			}
			role, err := models.ParseRole(name)
			if err != nil {
				return nil, err
			}
			counts[role] = count
		}
		return counts, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count identities: %w", err)
	}

	return counts, nil
}
