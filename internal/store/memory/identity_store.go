package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
)

var _ store.IdentityStore = (*IdentityStore)(nil)

// IdentityStore implements store.IdentityStore using in-memory storage.
type IdentityStore struct {
	mu sync.RWMutex

	nextID     int64
	identities map[int64]*models.Identity
	byUsername map[string]int64 // lower(username) -> id
	byEmail    map[string]int64 // lower(email) -> id
}

// NewIdentityStore creates a new in-memory identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		nextID:     1,
		identities: make(map[int64]*models.Identity),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
	}
}

func usernameKey(username string) string { return strings.ToLower(username) }
func emailKey(email string) string       { return strings.ToLower(email) }

// Create stores a new identity.
func (s *IdentityStore) Create(ctx context.Context, identity *models.Identity) error {
	if !identity.Role.Valid() {
		return models.ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueLocked(0, identity.Username, identity.Profile.Email); err != nil {
		return err
	}

	now := time.Now()
	identity.ID = s.nextID
	identity.CreatedAt = now
	identity.UpdatedAt = now
	s.nextID++

	s.identities[identity.ID] = identity.Clone()
	s.byUsername[usernameKey(identity.Username)] = identity.ID
	s.byEmail[emailKey(identity.Profile.Email)] = identity.ID

	return nil
}

// checkUniqueLocked reports every uniqueness conflict, ignoring the identity with selfID.
func (s *IdentityStore) checkUniqueLocked(selfID int64, username, email string) error {
	var errs []error
	if id, ok := s.byUsername[usernameKey(username)]; ok && id != selfID {
		errs = append(errs, store.ErrUsernameTaken)
	}
	if id, ok := s.byEmail[emailKey(email)]; ok && id != selfID {
		errs = append(errs, store.ErrEmailTaken)
	}
	return errors.Join(errs...)
}

// Get retrieves an identity by ID.
func (s *IdentityStore) Get(ctx context.Context, id int64) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, store.ErrIdentityNotFound
	}
	return identity.Clone(), nil
}

func (s *IdentityStore) exists(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.identities[id]
	return ok
}

// GetByUsername retrieves an identity by handle.
func (s *IdentityStore) GetByUsername(ctx context.Context, username string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[usernameKey(username)]
	if !ok {
		return nil, store.ErrIdentityNotFound
	}
	return s.identities[id].Clone(), nil
}

// GetByEmail retrieves an identity by email.
func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, store.ErrIdentityNotFound
	}
	return s.identities[id].Clone(), nil
}

// Update replaces the username, profile and password hash of an identity.
func (s *IdentityStore) Update(ctx context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.identities[identity.ID]
	if !ok {
		return store.ErrIdentityNotFound
	}

	if err := s.checkUniqueLocked(identity.ID, identity.Username, identity.Profile.Email); err != nil {
		return err
	}

	delete(s.byUsername, usernameKey(existing.Username))
	delete(s.byEmail, emailKey(existing.Profile.Email))

	existing.Username = identity.Username
	existing.Profile = identity.Profile
	existing.PasswordHash = identity.PasswordHash
	existing.UpdatedAt = time.Now()

	s.byUsername[usernameKey(existing.Username)] = existing.ID
	s.byEmail[emailKey(existing.Profile.Email)] = existing.ID

	identity.UpdatedAt = existing.UpdatedAt
	return nil
}

// UpdatePasswordHash replaces the credential hash of an identity.
func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return store.ErrIdentityNotFound
	}
	identity.PasswordHash = hash
	identity.UpdatedAt = time.Now()
	return nil
}

// UpdateRole changes the role of an identity.
func (s *IdentityStore) UpdateRole(ctx context.Context, id int64, role models.Role) error {
	if !role.Valid() {
		return models.ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return store.ErrIdentityNotFound
	}
	identity.Role = role
	identity.UpdatedAt = time.Now()
	return nil
}

// Delete removes an identity.
func (s *IdentityStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return store.ErrIdentityNotFound
	}
	delete(s.byUsername, usernameKey(identity.Username))
	delete(s.byEmail, emailKey(identity.Profile.Email))
	delete(s.identities, id)
	return nil
}

// List returns identities ordered by ID.
func (s *IdentityStore) List(ctx context.Context, opts store.ListIdentitiesOptions) ([]*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	ids := make([]int64, 0, len(s.identities))
	for id, identity := range s.identities {
		if opts.Role != 0 && identity.Role != opts.Role {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	if len(ids) > limit {
		ids = ids[:limit]
	}

	result := make([]*models.Identity, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.identities[id].Clone())
	}
	return result, nil
}

// CountByRole returns the number of identities per role.
func (s *IdentityStore) CountByRole(ctx context.Context) (map[models.Role]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.Role]int, len(models.Roles))
	for _, identity := range s.identities {
		counts[identity.Role]++
	}
	return counts, nil
}
