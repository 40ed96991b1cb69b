package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenops-hq/greenops-server/internal/api/http/dto"
)

func TestAgentLifecycle(t *testing.T, env *Env) {
	reg := registerAgent(t, env, "02:00:00:00:01:01", "agent-lifecycle")
	require.NotEmpty(t, reg.Credential)
	require.NotEmpty(t, reg.MachineID)

	t.Run("re-registration keeps identity and rotates credential", func(t *testing.T) {
		rereg := registerAgent(t, env, "02:00:00:00:01:01", "agent-lifecycle-renamed")
		assert.Equal(t, reg.MachineID, rereg.MachineID)
		assert.NotEqual(t, reg.Credential, rereg.Credential)

		// The rotated-out credential no longer authenticates.
		idle := int64(0)
		rr := doJSONWithAuth(env, "POST", "/api/agents/heartbeat",
			dto.HeartbeatRequest{IdleSeconds: &idle}, reg.Credential)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		reg = rereg
	})

	t.Run("heartbeat classification", func(t *testing.T) {
		resp := sendHeartbeat(t, env, reg.Credential, 0)
		assert.Equal(t, "online", resp.Status)

		resp = sendHeartbeat(t, env, reg.Credential, 600)
		assert.Equal(t, "idle", resp.Status)
		assert.GreaterOrEqual(t, resp.EnergyWastedKWh, 0.0)

		resp = sendHeartbeat(t, env, reg.Credential, 10)
		assert.Equal(t, "online", resp.Status)
	})

	t.Run("command round trip", func(t *testing.T) {
		token := loginAdmin(t, env)

		rr := doJSONWithAuth(env, "POST", "/api/machines/"+reg.MachineID+"/sleep", nil, token)
		require.Equal(t, http.StatusAccepted, rr.Code, "body: %s", rr.Body.String())
		var queued dto.EnqueueCommandResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &queued))

		// A second command supersedes the first.
		rr = doJSONWithAuth(env, "POST", "/api/machines/"+reg.MachineID+"/shutdown", nil, token)
		require.Equal(t, http.StatusAccepted, rr.Code)
		var superseding dto.EnqueueCommandResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &superseding))

		rr = doJSONWithAuth(env, "GET", "/api/agents/commands", nil, reg.Credential)
		require.Equal(t, http.StatusOK, rr.Code)
		var pending dto.PendingCommandsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pending))
		require.Len(t, pending.Commands, 1)
		assert.Equal(t, superseding.CommandID, pending.Commands[0].ID)
		assert.Equal(t, "shutdown", pending.Commands[0].Command)

		// The superseded command can no longer be completed.
		rr = doJSONWithAuth(env, "POST", "/api/agents/commands/"+queued.CommandID+"/result",
			dto.ReportResultRequest{Status: "executed"}, reg.Credential)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		// Completing the live one drains the queue.
		rr = doJSONWithAuth(env, "POST", "/api/agents/commands/"+superseding.CommandID+"/result",
			dto.ReportResultRequest{Status: "executed", Message: "shutdown initiated"}, reg.Credential)
		require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

		rr = doJSONWithAuth(env, "GET", "/api/agents/commands", nil, reg.Credential)
		require.Equal(t, http.StatusOK, rr.Code)
		pending = dto.PendingCommandsResponse{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pending))
		assert.Empty(t, pending.Commands)

		// Duplicate terminal report.
		rr = doJSONWithAuth(env, "POST", "/api/agents/commands/"+superseding.CommandID+"/result",
			dto.ReportResultRequest{Status: "failed"}, reg.Credential)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("command to offline machine conflicts", func(t *testing.T) {
		offline := registerAgent(t, env, "02:00:00:00:01:02", "agent-never-seen")
		token := loginAdmin(t, env)

		rr := doJSONWithAuth(env, "POST", "/api/machines/"+offline.MachineID+"/sleep", nil, token)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}
