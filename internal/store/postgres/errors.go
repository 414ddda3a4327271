package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Unique indexes whose violations are reported to callers as duplicates.
const (
	emailUniqueIndex    = "identity_profiles_email_lower_idx"
	usernameUniqueIndex = "identity_credentials_username_lower_idx"
)

// mapPostgresError maps PostgreSQL and connection errors to store sentinel
// errors. Anything that means "the database could not answer" wraps
// store.ErrStoreUnavailable.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if isConnectionError(err) {
			return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
		}
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		switch pgErr.ConstraintName {
		case emailUniqueIndex:
			return store.ErrEmailTaken
		case usernameUniqueIndex:
			return store.ErrUsernameTaken
		}
		return fmt.Errorf("unique constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s", store.ErrIdentityNotFound, pgErr.Detail)

	case pgerrcode.CheckViolation:
		return fmt.Errorf("%w: check constraint %s", models.ErrInvalidRole, pgErr.ConstraintName)

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: transaction conflict: %w", store.ErrStoreUnavailable, err)

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection,
		pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown,
		pgerrcode.TooManyConnections,
		pgerrcode.QueryCanceled:
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
