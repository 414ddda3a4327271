package session

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

const idBytes = 32

func newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base58.Encode(b), nil
}

// validID rejects cookie values that could not have been issued here.
func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	b, err := base58.Decode(id)
	return err == nil && len(b) == idBytes
}

// shortID is the log-safe prefix of a session id.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
