package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/greenops-hq/greenops-server/internal/api/http/dto"
	"github.com/greenops-hq/greenops-server/internal/db"
	"github.com/greenops-hq/greenops-server/internal/machines"
)

// Env bundles everything a system test scenario needs: the wired router,
// direct database access for fixture surgery, and the sweeper.
type Env struct {
	Router    *gin.Engine
	Pool      *db.Pool
	Sweeper   *machines.Sweeper
	JWTSecret string
	Timeout   time.Duration
}

func doJSON(env *Env, method, path string, body any) *httptest.ResponseRecorder {
	return doJSONWithAuth(env, method, path, body, "")
}

func doJSONWithAuth(env *Env, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	env.Router.ServeHTTP(rr, req)
	return rr
}

func loginAdmin(t *testing.T, env *Env) string {
	t.Helper()
	rr := doJSON(env, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "changeme"})
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var resp dto.LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Token
}

func registerAgent(t *testing.T, env *Env, hardwareAddress, hostname string) dto.RegisterAgentResponse {
	t.Helper()
	rr := doJSON(env, "POST", "/api/agents/register", dto.RegisterAgentRequest{
		HardwareAddress: hardwareAddress,
		Hostname:        hostname,
		OSType:          "linux",
		OSVersion:       "Ubuntu 22.04",
	})
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var resp dto.RegisterAgentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func sendHeartbeat(t *testing.T, env *Env, credential string, idleSeconds int64) dto.HeartbeatResponse {
	t.Helper()
	rr := doJSONWithAuth(env, "POST", "/api/agents/heartbeat",
		dto.HeartbeatRequest{IdleSeconds: &idleSeconds}, credential)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var resp dto.HeartbeatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}
