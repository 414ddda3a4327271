// Package credentials owns identities: verifying secrets, creating accounts
// and the administrative changes made to them.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/elgarage/garage/internal/validate"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrInvalidCredentials covers both an unknown handle and a wrong secret.
var ErrInvalidCredentials = errors.New("invalid username or password")

// DefaultStoreTimeout bounds each identity store call.
const DefaultStoreTimeout = 3 * time.Second

// Service verifies and manages identities.
type Service struct {
	identities   store.IdentityStore
	hasher       *Hasher
	storeTimeout time.Duration
}

// NewService creates a Service backed by identities.
func NewService(identities store.IdentityStore, hasher *Hasher, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Service{
		identities:   identities,
		hasher:       hasher,
		storeTimeout: storeTimeout,
	}
}

// NewIdentity describes an account to create.
type NewIdentity struct {
	Username string
	Password string
	Role     models.Role
	Profile  models.Profile
}

// Validate checks every field of req and returns all problems found.
func (req NewIdentity) Validate() validate.Errors {
	var errs validate.Errors
	errs.Add(validate.Username(req.Username))
	errs.Add(validate.Password(req.Password))
	errs = append(errs, validate.Profile(normalizeProfile(req.Profile))...)
	if !req.Role.Valid() {
		errs.Add("Select a valid role.")
	}
	return errs
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeError keeps the sentinel errors callers branch on and marks every other
// failure as the store being unavailable.
func storeError(action string, err error) error {
	switch {
	case errors.Is(err, store.ErrIdentityNotFound),
		errors.Is(err, store.ErrDuplicateIdentity),
		errors.Is(err, models.ErrInvalidRole):
		return err
	}
	return fmt.Errorf("failed to %s: %w", action, store.Unavailable(err))
}

func normalizeProfile(p models.Profile) models.Profile {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Phone = strings.TrimSpace(p.Phone)
	p.Address = strings.TrimSpace(p.Address)
	return p
}

// VerifyCredentials returns the identity whose handle and secret match.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (*models.Identity, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "credentials.VerifyCredentials")
	defer span.End()

	lookupCtx, cancel := s.bound(ctx)
	identity, err := s.identities.GetByUsername(lookupCtx, username)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			s.hasher.VerifyDummy(password)
			span.SetAttributes(attribute.String("outcome", "unknown_user"))
			return nil, ErrInvalidCredentials
		}
		span.SetStatus(codes.Error, "identity lookup failed")
		return nil, storeError("look up identity", err)
	}

	ok, err := s.hasher.Verify(password, identity.PasswordHash)
	if err != nil {
		log.Error().Err(err).Int64("identity_id", identity.ID).Msg("Stored password hash is unreadable")
		span.SetAttributes(attribute.String("outcome", "bad_hash"))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		span.SetAttributes(attribute.String("outcome", "wrong_password"))
		return nil, ErrInvalidCredentials
	}

	span.SetAttributes(attribute.String("outcome", "success"), attribute.Int64("identity_id", identity.ID))

	if s.hasher.NeedsRehash(identity.PasswordHash) {
		s.rehash(ctx, identity, password)
	}

	return identity, nil
}

// rehash upgrades a legacy hash after a successful login. Failure only logs.
func (s *Service) rehash(ctx context.Context, identity *models.Identity, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		log.Warn().Err(err).Int64("identity_id", identity.ID).Msg("Failed to derive upgraded password hash")
		return
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.identities.UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
		log.Warn().Err(err).Int64("identity_id", identity.ID).Msg("Failed to store upgraded password hash")
		return
	}

	identity.PasswordHash = hash
	telemetry.GetMetrics().PasswordRehashTotal.Add(ctx, 1)
	log.Info().Int64("identity_id", identity.ID).Msg("Upgraded stored password hash")
}

// CreateIdentity validates, hashes and stores a new identity. Validation
// failures are returned as validate.Errors; uniqueness conflicts as
// store.ErrUsernameTaken and/or store.ErrEmailTaken.
func (s *Service) CreateIdentity(ctx context.Context, req NewIdentity) (*models.Identity, error) {
	req.Profile = normalizeProfile(req.Profile)

	if errs := req.Validate(); !errs.Empty() {
		return nil, errs
	}

	if err := s.checkUnique(ctx, 0, req.Username, req.Profile.Email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	identity := &models.Identity{
		Username:     req.Username,
		Profile:      req.Profile,
		Role:         req.Role,
		PasswordHash: hash,
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, storeError("create identity", err)
	}

	log.Info().
		Int64("identity_id", identity.ID).
		Str("username", identity.Username).
		Str("role", identity.Role.String()).
		Msg("Created identity")

	return identity, nil
}

// checkUnique reports every handle or email already held by another identity.
func (s *Service) checkUnique(ctx context.Context, selfID int64, username, email string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var errs []error

	existing, err := s.identities.GetByUsername(ctx, username)
	switch {
	case err == nil && existing.ID != selfID:
		errs = append(errs, store.ErrUsernameTaken)
	case err != nil && !errors.Is(err, store.ErrIdentityNotFound):
		return storeError("check username", err)
	}

	existing, err = s.identities.GetByEmail(ctx, email)
	switch {
	case err == nil && existing.ID != selfID:
		errs = append(errs, store.ErrEmailTaken)
	case err != nil && !errors.Is(err, store.ErrIdentityNotFound):
		return storeError("check email", err)
	}

	return errors.Join(errs...)
}

// ChangeSecret replaces the secret of id after re-verifying the current one.
func (s *Service) ChangeSecret(ctx context.Context, id int64, current, next string) error {
	identity, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(current, identity.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	return s.setSecret(ctx, id, next)
}

// ResetSecret replaces the secret of id without knowing the current one.
func (s *Service) ResetSecret(ctx context.Context, id int64, next string) error {
	return s.setSecret(ctx, id, next)
}

func (s *Service) setSecret(ctx context.Context, id int64, next string) error {
	if msg := validate.Password(next); msg != "" {
		return validate.Errors{msg}
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.identities.UpdatePasswordHash(ctx, id, hash); err != nil {
		return storeError("update password", err)
	}

	log.Info().Int64("identity_id", id).Msg("Password changed")
	return nil
}

// UpdateProfile replaces the profile of id. The email may stay the same but
// must not belong to another identity.
func (s *Service) UpdateProfile(ctx context.Context, id int64, profile models.Profile) (*models.Identity, error) {
	identity, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.update(ctx, identity, identity.Username, profile, "")
}

// UpdateAccount is the administrative edit: handle, profile and, when
// newPassword is not empty, the secret, all written together.
func (s *Service) UpdateAccount(ctx context.Context, id int64, username string, profile models.Profile, newPassword string) (*models.Identity, error) {
	identity, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.update(ctx, identity, username, profile, newPassword)
}

func (s *Service) update(ctx context.Context, identity *models.Identity, username string, profile models.Profile, newPassword string) (*models.Identity, error) {
	profile = normalizeProfile(profile)

	var errs validate.Errors
	errs.Add(validate.Username(username))
	errs = append(errs, validate.Profile(profile)...)
	if newPassword != "" {
		errs.Add(validate.Password(newPassword))
	}
	if !errs.Empty() {
		return nil, errs
	}

	if err := s.checkUnique(ctx, identity.ID, username, profile.Email); err != nil {
		return nil, err
	}

	updated := identity.Clone()
	updated.Username = username
	updated.Profile = profile

	if newPassword != "" {
		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return nil, err
		}
		updated.PasswordHash = hash
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.identities.Update(ctx, updated); err != nil {
		return nil, storeError("update identity", err)
	}

	log.Info().
		Int64("identity_id", updated.ID).
		Bool("password_reset", newPassword != "").
		Msg("Updated identity")

	return updated, nil
}

// ChangeRole sets the role of id. Sessions already issued keep their role
// snapshot until the identity logs in again.
func (s *Service) ChangeRole(ctx context.Context, id int64, role models.Role) error {
	if !role.Valid() {
		return models.ErrInvalidRole
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.identities.UpdateRole(ctx, id, role); err != nil {
		return storeError("change role", err)
	}

	log.Info().Int64("identity_id", id).Str("role", role.String()).Msg("Changed identity role")
	return nil
}

// Delete removes id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.identities.Delete(ctx, id); err != nil {
		return storeError("delete identity", err)
	}
	return nil
}

// Get returns the identity with id.
func (s *Service) Get(ctx context.Context, id int64) (*models.Identity, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	identity, err := s.identities.Get(ctx, id)
	if err != nil {
		return nil, storeError("get identity", err)
	}
	return identity, nil
}

// List returns identities ordered by ID.
func (s *Service) List(ctx context.Context, opts store.ListIdentitiesOptions) ([]*models.Identity, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	identities, err := s.identities.List(ctx, opts)
	if err != nil {
		return nil, storeError("list identities", err)
	}
	return identities, nil
}

// CountByRole returns the number of identities holding each role.
func (s *Service) CountByRole(ctx context.Context) (map[models.Role]int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	counts, err := s.identities.CountByRole(ctx)
	if err != nil {
		return nil, storeError("count identities", err)
	}
	return counts, nil
}
