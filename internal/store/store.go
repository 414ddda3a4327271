package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")

	// ErrDuplicateIdentity is wrapped by ErrUsernameTaken and ErrEmailTaken.
	ErrDuplicateIdentity = errors.New("identity already exists")
	ErrUsernameTaken     = fmt.Errorf("%w: username is taken", ErrDuplicateIdentity)
	ErrEmailTaken        = fmt.Errorf("%w: email is registered", ErrDuplicateIdentity)

	// ErrStoreUnavailable marks failures where the store could not answer at
	// all. Callers must fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Unavailable wraps err as ErrStoreUnavailable unless it already is one.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
