package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// agentCredentialPrefix marks opaque agent credentials so they are
// recognizable in logs and support tickets without revealing anything.
const agentCredentialPrefix = "ma_"

// NewAgentCredential generates an opaque agent credential. It is returned
// to the agent exactly once, at registration; only its hash is stored.
func NewAgentCredential() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate credential: %w", err)
	}
	return agentCredentialPrefix + hex.EncodeToString(b), nil
}

// HashCredential returns the hex SHA-256 digest stored and indexed in
// place of the credential itself.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// LooksLikeAgentCredential is a cheap shape check that lets the agent auth
// middleware skip a store lookup for obviously wrong tokens.
func LooksLikeAgentCredential(credential string) bool {
	return strings.HasPrefix(credential, agentCredentialPrefix) && len(credential) == len(agentCredentialPrefix)+64
}
