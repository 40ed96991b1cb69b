package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenops-hq/greenops-server/internal/api/http/dto"
)

func TestDashboard(t *testing.T, env *Env) {
	active := registerAgent(t, env, "02:00:00:00:02:01", "dash-active")
	sendHeartbeat(t, env, active.Credential, 0)

	idle := registerAgent(t, env, "02:00:00:00:02:02", "dash-idle")
	sendHeartbeat(t, env, idle.Credential, 900)

	token := loginAdmin(t, env)

	t.Run("list with status filter", func(t *testing.T) {
		rr := doJSONWithAuth(env, "GET", "/api/machines?status=idle", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListMachinesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		found := false
		for _, m := range resp.Machines {
			assert.Equal(t, "idle", m.Status)
			if m.ID == idle.MachineID {
				found = true
			}
		}
		assert.True(t, found, "idle machine appears in the filtered list")
	})

	t.Run("invalid status filter", func(t *testing.T) {
		rr := doJSONWithAuth(env, "GET", "/api/machines?status=sleeping", nil, token)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("machine detail", func(t *testing.T) {
		rr := doJSONWithAuth(env, "GET", "/api/machines/"+active.MachineID, nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.MachineResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "02:00:00:00:02:01", resp.HardwareAddress)
		assert.Equal(t, "online", resp.Status)

		rr = doJSONWithAuth(env, "GET", "/api/machines/"+uuid.NewString(), nil, token)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("heartbeat history", func(t *testing.T) {
		rr := doJSONWithAuth(env, "GET", "/api/machines/"+idle.MachineID+"/heartbeats", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.MachineHeartbeatsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Heartbeats)
		assert.True(t, resp.Heartbeats[0].IsIdle)
		assert.Equal(t, int64(900), resp.Heartbeats[0].IdleSeconds)
	})

	t.Run("fleet stats", func(t *testing.T) {
		rr := doJSONWithAuth(env, "GET", "/api/dashboard/stats", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.FleetStatsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.GreaterOrEqual(t, resp.TotalMachines, int64(2))
		assert.GreaterOrEqual(t, resp.IdleMachines, int64(1))
		assert.GreaterOrEqual(t, resp.EstimatedCost, 0.0)
	})

	t.Run("delete cascades", func(t *testing.T) {
		doomed := registerAgent(t, env, "02:00:00:00:02:03", "dash-doomed")
		sendHeartbeat(t, env, doomed.Credential, 0)

		rr := doJSONWithAuth(env, "DELETE", "/api/machines/"+doomed.MachineID, nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSONWithAuth(env, "GET", "/api/machines/"+doomed.MachineID, nil, token)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		var count int
		err := env.Pool.QueryRow(context.Background(),
			"SELECT COUNT(*) FROM heartbeats WHERE machine_id = $1", doomed.MachineID).Scan(&count)
		require.NoError(t, err)
		assert.Zero(t, count, "heartbeats are removed with their machine")
	})
}

func TestOfflineSweep(t *testing.T, env *Env) {
	ctx := context.Background()

	reg := registerAgent(t, env, "02:00:00:00:03:01", "sweep-target")
	sendHeartbeat(t, env, reg.Credential, 0)

	token := loginAdmin(t, env)
	rr := doJSONWithAuth(env, "POST", "/api/machines/"+reg.MachineID+"/sleep", nil, token)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var queued dto.EnqueueCommandResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &queued))

	// Backdate the machine and its pending command past both deadlines.
	_, err := env.Pool.Exec(ctx,
		"UPDATE machines SET last_seen = now() - ($1 || ' seconds')::interval WHERE id = $2",
		"3600", reg.MachineID)
	require.NoError(t, err)
	_, err = env.Pool.Exec(ctx,
		"UPDATE machine_commands SET created_at = now() - interval '10 minutes' WHERE id = $1",
		queued.CommandID)
	require.NoError(t, err)

	env.Sweeper.Sweep(ctx)

	rr = doJSONWithAuth(env, "GET", "/api/machines/"+reg.MachineID, nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	var m dto.MachineResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	assert.Equal(t, "offline", m.Status)

	// The undelivered command was expired as well.
	rr = doJSONWithAuth(env, "GET", "/api/agents/commands", nil, reg.Credential)
	require.Equal(t, http.StatusOK, rr.Code)
	var pending dto.PendingCommandsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pending))
	assert.Empty(t, pending.Commands)

	// A sweep with nothing to do is a no-op.
	env.Sweeper.Sweep(ctx)
	rr = doJSONWithAuth(env, "GET", "/api/machines/"+reg.MachineID, nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
}
