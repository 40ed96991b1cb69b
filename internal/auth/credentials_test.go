package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentCredential(t *testing.T) {
	cred, err := NewAgentCredential()
	require.NoError(t, err)
	assert.True(t, LooksLikeAgentCredential(cred))
	assert.Len(t, cred, len(agentCredentialPrefix)+64)

	// Credentials are random, never repeated.
	other, err := NewAgentCredential()
	require.NoError(t, err)
	assert.NotEqual(t, cred, other)
}

func TestHashCredential(t *testing.T) {
	hash := HashCredential("ma_abc")
	assert.Len(t, hash, 64, "hex-encoded SHA-256")
	assert.Equal(t, hash, HashCredential("ma_abc"), "hashing is deterministic")
	assert.NotEqual(t, hash, HashCredential("ma_abd"))
}

func TestLooksLikeAgentCredential(t *testing.T) {
	cred, err := NewAgentCredential()
	require.NoError(t, err)
	assert.True(t, LooksLikeAgentCredential(cred))

	assert.False(t, LooksLikeAgentCredential(""))
	assert.False(t, LooksLikeAgentCredential("ma_short"))
	assert.False(t, LooksLikeAgentCredential(cred[3:]), "missing prefix")
	assert.False(t, LooksLikeAgentCredential(cred+"0"), "wrong length")
	assert.False(t, LooksLikeAgentCredential("Bearer something"))
}
