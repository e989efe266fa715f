package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHashParams = Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestHashPassword_Format(t *testing.T) {
	hash, err := HashPassword("secret-password", testHashParams)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))
	assert.Len(t, strings.Split(hash, "$"), 6)
}

func TestHashPassword_UniqueSalt(t *testing.T) {
	h1, err := HashPassword("same", testHashParams)
	require.NoError(t, err)
	h2, err := HashPassword("same", testHashParams)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse", testHashParams)
	require.NoError(t, err)

	ok, err := CheckPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckPassword_InvalidHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want error
	}{
		{"empty", "", ErrInvalidHash},
		{"wrong algorithm", "$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA", ErrInvalidHash},
		{"wrong version", "$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$aGFzaA", ErrIncompatibleVersion},
		{"bad params", "$argon2id$v=19$garbage$c2FsdA$aGFzaA", ErrInvalidHash},
		{"bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA", ErrInvalidHash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckPassword("x", tt.hash)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
