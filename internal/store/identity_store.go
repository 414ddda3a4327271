package store

import (
	"context"

	"github.com/elgarage/garage/internal/models"
)

// IdentityStore persists identities. Implementations write the profile and
// credential halves of an identity atomically.
type IdentityStore interface {
	// Create inserts a new identity and assigns its ID and timestamps.
	// Returns ErrUsernameTaken or ErrEmailTaken on a uniqueness conflict.
	Create(ctx context.Context, identity *models.Identity) error

	// Get retrieves an identity by ID.
	Get(ctx context.Context, id int64) (*models.Identity, error)

	// GetByUsername retrieves an identity by handle, case-insensitively.
	GetByUsername(ctx context.Context, username string) (*models.Identity, error)

	// GetByEmail retrieves an identity by profile email.
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)

	// Update replaces the username, profile and password hash of an
	// existing identity in one atomic write. Role is left unchanged.
	Update(ctx context.Context, identity *models.Identity) error

	// UpdatePasswordHash replaces the stored credential hash.
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error

	// UpdateRole changes the role of an identity.
	UpdateRole(ctx context.Context, id int64, role models.Role) error

	// Delete removes both halves of an identity.
	Delete(ctx context.Context, id int64) error

	// List returns identities ordered by ID.
	List(ctx context.Context, opts ListIdentitiesOptions) ([]*models.Identity, error)

	// CountByRole returns the number of identities per role.
	CountByRole(ctx context.Context) (map[models.Role]int, error)
}

// ListIdentitiesOptions specifies filters for listing identities
type ListIdentitiesOptions struct {
	Role  models.Role // Filter by role (zero = all)
	Limit int         // Max results (0 = default)
}

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 500
