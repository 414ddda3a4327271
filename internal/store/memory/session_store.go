package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
)

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore using in-memory storage.
// Data is lost on restart.
type SessionStore struct {
	mu sync.RWMutex

	sessions           map[string]*models.Session // session_id -> Session
	sessionsByIdentity map[int64][]string         // identity_id -> []session_id
	identities         *IdentityStore             // nil skips the owner check
	now                func() time.Time
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:           make(map[string]*models.Session),
		sessionsByIdentity: make(map[int64][]string),
		now:                time.Now,
	}
}

// NewSessionStoreFor creates a session store that refuses sessions owned
// by identities missing from identities, like the postgres foreign key.
func NewSessionStoreFor(identities *IdentityStore) *SessionStore {
	s := NewSessionStore()
	s.identities = identities
	return s
}

// Create creates a new session in memory.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session id collision")
	}
	if session.IdentityID != 0 && s.identities != nil && !s.identities.exists(session.IdentityID) {
		return store.ErrIdentityNotFound
	}

	// Clone to avoid external modifications
	clone := *session
	s.sessions[session.ID] = &clone

	if session.IdentityID != 0 {
		s.sessionsByIdentity[session.IdentityID] = append(
			s.sessionsByIdentity[session.IdentityID],
			session.ID,
		)
	}

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	if session.IsExpiredAt(s.now()) {
		return nil, store.ErrSessionExpired
	}

	clone := *session
	return &clone, nil
}

// UpdateLastUsed updates the last_used_at timestamp for a session.
func (s *SessionStore) UpdateLastUsed(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	session.LastUsedAt = at
	return nil
}

// GetOrCreateCSRFToken returns the session's token, storing candidate if none is set.
func (s *SessionStore) GetOrCreateCSRFToken(ctx context.Context, sessionID, candidate string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return "", store.ErrSessionNotFound
	}
	if session.IsExpiredAt(s.now()) {
		return "", store.ErrSessionExpired
	}

	if session.CSRFToken == "" {
		session.CSRFToken = candidate
	}

	return session.CSRFToken, nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	s.removeFromIdentityIndex(session.IdentityID, sessionID)
	delete(s.sessions, sessionID)

	return nil
}

// DeleteByIdentity deletes all sessions for an identity (logout everywhere).
func (s *SessionStore) DeleteByIdentity(ctx context.Context, identityID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionIDs, exists := s.sessionsByIdentity[identityID]
	if !exists {
		return 0, nil
	}

	for _, sessionID := range sessionIDs {
		delete(s.sessions, sessionID)
	}
	delete(s.sessionsByIdentity, identityID)

	return len(sessionIDs), nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []string
	now := s.now()

	for id, session := range s.sessions {
		if session.IsExpiredAt(now) {
			toDelete = append(toDelete, id)
		}
	}

	for _, sessionID := range toDelete {
		session := s.sessions[sessionID]
		s.removeFromIdentityIndex(session.IdentityID, sessionID)
		delete(s.sessions, sessionID)
	}

	return len(toDelete), nil
}

// removeFromIdentityIndex removes a session ID from the identity's session list.
func (s *SessionStore) removeFromIdentityIndex(identityID int64, sessionID string) {
	if identityID == 0 {
		return
	}
	sessionIDs := s.sessionsByIdentity[identityID]
	for i, id := range sessionIDs {
		if id == sessionID {
			s.sessionsByIdentity[identityID] = append(sessionIDs[:i], sessionIDs[i+1:]...)
			break
		}
	}
	if len(s.sessionsByIdentity[identityID]) == 0 {
		delete(s.sessionsByIdentity, identityID)
	}
}
