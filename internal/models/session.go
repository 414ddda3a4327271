package models

import (
	"time"
)

// Session is the server-side record behind an opaque session cookie.
//
// A session with IdentityID 0 is anonymous: it exists only to carry the
// anti-forgery token of pre-login forms. Role, Username and DisplayName are a
// snapshot taken at authentication time and are not refreshed from the
// identity store.
type Session struct {
	ID         string // the only value stored in the cookie
	IdentityID int64

	Username    string
	DisplayName string
	Role        Role

	// CSRFToken is empty until the first form needs one.
	CSRFToken string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session is past its absolute lifetime.
func (s *Session) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether the session has expired at the given instant.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Authenticated reports whether the session is bound to an identity.
func (s *Session) Authenticated() bool {
	return s != nil && s.IdentityID != 0 && s.Role.Valid()
}
