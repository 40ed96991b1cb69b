package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenops-hq/greenops-server/internal/api/http/dto"
	"github.com/greenops-hq/greenops-server/internal/auth"
)

func TestHealthCheck(t *testing.T, env *Env) {
	rr := doJSON(env, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Database)
}

func TestOperatorAuth(t *testing.T, env *Env) {
	t.Run("seeded admin login", func(t *testing.T) {
		rr := doJSON(env, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "changeme"})
		require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

		var resp dto.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "admin", resp.Username)
		assert.Equal(t, "admin", resp.Role)
		assert.True(t, resp.MustChangePassword, "seeded password must be changed")

		claims, err := auth.ValidateToken(env.JWTSecret, resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Username)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := doJSON(env, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		rr := doJSON(env, "POST", "/api/auth/login", dto.LoginRequest{Username: "nobody", Password: "changeme"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("verify", func(t *testing.T) {
		token := loginAdmin(t, env)
		rr := doJSONWithAuth(env, "GET", "/api/auth/verify", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.VerifyResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.True(t, resp.Valid)
		assert.Equal(t, "admin", resp.Username)
	})

	t.Run("dashboard requires token", func(t *testing.T) {
		rr := doJSON(env, "GET", "/api/machines", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = doJSONWithAuth(env, "GET", "/api/machines", nil, "garbage-token")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("change password round trip", func(t *testing.T) {
		token := loginAdmin(t, env)

		rr := doJSONWithAuth(env, "POST", "/api/auth/change-password",
			dto.ChangePasswordRequest{CurrentPassword: "changeme", NewPassword: "systemtest-pass"}, token)
		require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

		rr = doJSON(env, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "changeme"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = doJSON(env, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "systemtest-pass"})
		require.Equal(t, http.StatusOK, rr.Code)
		var resp dto.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, resp.MustChangePassword, "flag clears after a password change")

		// Restore the seeded password so later scenarios can log in.
		rr = doJSONWithAuth(env, "POST", "/api/auth/change-password",
			dto.ChangePasswordRequest{CurrentPassword: "systemtest-pass", NewPassword: "changeme"}, resp.Token)
		require.Equal(t, http.StatusOK, rr.Code)
	})
}
