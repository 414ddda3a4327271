package credentials

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testParams = Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32, SaltLen: 16}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(testParams)
	require.NoError(t, err)
	return h
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"defaults", DefaultParams, false},
		{"test params", testParams, false},
		{"zero time", Params{Time: 0, Memory: 64, Threads: 1, KeyLen: 32, SaltLen: 16}, true},
		{"zero threads", Params{Time: 1, Memory: 64, Threads: 0, KeyLen: 32, SaltLen: 16}, true},
		{"short key", Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 8, SaltLen: 16}, true},
		{"short salt", Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32, SaltLen: 4}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("Passw0rd!")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$"))

	ok, err := h.Verify("Passw0rd!", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify("passw0rd!", hash)
	require.NoError(t, err)
	require.False(t, ok)

	other, err := h.Hash("Passw0rd!")
	require.NoError(t, err)
	require.NotEqual(t, hash, other, "each hash gets its own salt")
}

func TestHasher_VerifyBcrypt(t *testing.T) {
	h := newTestHasher(t)

	legacy, err := bcrypt.GenerateFromPassword([]byte("Legacy123"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := h.Verify("Legacy123", string(legacy))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify("Legacy124", string(legacy))
	require.NoError(t, err)
	require.False(t, ok)

	require.True(t, h.NeedsRehash(string(legacy)))
}

func TestHasher_VerifyMalformed(t *testing.T) {
	h := newTestHasher(t)

	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"plain text", "Passw0rd!"},
		{"wrong algorithm", "$argon2i$v=19$m=64,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5"},
		{"wrong version", "$argon2id$v=16$m=64,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5"},
		{"bad params", "$argon2id$v=19$m=x,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5"},
		{"bad salt", "$argon2id$v=19$m=64,t=1,p=1$!!!$a2V5"},
		{"missing key", "$argon2id$v=19$m=64,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := h.Verify("Passw0rd!", tt.encoded)
			require.ErrorIs(t, err, ErrUnknownHashFormat)
			require.False(t, ok)
			require.True(t, h.NeedsRehash(tt.encoded))
		})
	}
}

func TestHasher_NeedsRehash(t *testing.T) {
	h := newTestHasher(t)

	current, err := h.Hash("Passw0rd!")
	require.NoError(t, err)
	require.False(t, h.NeedsRehash(current))

	stronger, err := NewHasher(Params{Time: 2, Memory: 64, Threads: 1, KeyLen: 32, SaltLen: 16})
	require.NoError(t, err)
	require.True(t, stronger.NeedsRehash(current))

	// Hashes made with the stronger params still verify with the weaker hasher.
	strongHash, err := stronger.Hash("Passw0rd!")
	require.NoError(t, err)
	ok, err := h.Verify("Passw0rd!", strongHash)
	require.NoError(t, err)
	require.True(t, ok)
}
