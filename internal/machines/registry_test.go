package machines

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenops-hq/greenops-server/internal/auth"
)

func newTestService(store Store) *Service {
	return NewService(store, DefaultConfig())
}

func TestRegister_NewMachine(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	result, err := svc.Register(context.Background(), "AA:BB:CC:DD:EE:01", "build-01", "linux", "Ubuntu 22.04")
	require.NoError(t, err)
	assert.Equal(t, "Machine registered", result.Message)
	assert.True(t, auth.LooksLikeAgentCredential(result.Credential))

	m, err := store.GetMachine(context.Background(), result.MachineID)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", m.HardwareAddress)
	assert.Equal(t, StatusOffline, m.Status, "new machines start offline until their first heartbeat")
	assert.Zero(t, m.TotalIdleSeconds)
	assert.Zero(t, m.TotalActiveSeconds)
	assert.Zero(t, m.EnergyWastedKWh)

	// The credential is stored only as a hash.
	assert.Equal(t, auth.HashCredential(result.Credential), m.CredentialHash)
	assert.NotContains(t, m.CredentialHash, result.Credential)
}

func TestRegister_ExistingMachineKeepsIdentityAndCounters(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.Register(ctx, "AA:BB:CC:DD:EE:02", "old-name", "linux", "Ubuntu 20.04")
	require.NoError(t, err)

	// Accrue some history so we can verify re-registration preserves it.
	store.mu.Lock()
	store.machines[first.MachineID].TotalIdleSeconds = 900
	store.machines[first.MachineID].EnergyWastedKWh = 0.5
	store.mu.Unlock()

	second, err := svc.Register(ctx, "AA:BB:CC:DD:EE:02", "new-name", "linux", "Ubuntu 24.04")
	require.NoError(t, err)
	assert.Equal(t, first.MachineID, second.MachineID, "same hardware address must map to the same machine")
	assert.Equal(t, "Machine updated, credential rotated", second.Message)

	m, err := store.GetMachine(ctx, first.MachineID)
	require.NoError(t, err)
	assert.Equal(t, "new-name", m.Hostname)
	assert.Equal(t, "Ubuntu 24.04", m.OSVersion)
	assert.Equal(t, int64(900), m.TotalIdleSeconds, "counters survive re-registration")
	assert.Equal(t, 0.5, m.EnergyWastedKWh)
}

func TestRegister_RotatesCredential(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.Register(ctx, "AA:BB:CC:DD:EE:03", "host", "linux", "")
	require.NoError(t, err)

	second, err := svc.Register(ctx, "AA:BB:CC:DD:EE:03", "host", "linux", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.Credential, second.Credential)

	// Only the latest credential resolves.
	_, err = svc.AuthenticateAgent(ctx, auth.HashCredential(first.Credential))
	assert.ErrorIs(t, err, ErrMachineNotFound)

	m, err := svc.AuthenticateAgent(ctx, auth.HashCredential(second.Credential))
	require.NoError(t, err)
	assert.Equal(t, first.MachineID, m.ID)
}

func TestRegister_Validation(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	cases := []struct {
		name            string
		hardwareAddress string
		hostname        string
		osType          string
		osVersion       string
	}{
		{"missing hardware address", "", "host", "linux", ""},
		{"whitespace hardware address", "   ", "host", "linux", ""},
		{"missing hostname", "AA:BB:CC:DD:EE:04", "", "linux", ""},
		{"missing os type", "AA:BB:CC:DD:EE:04", "host", "", ""},
		{"hardware address too long", strings.Repeat("A", 18), "host", "linux", ""},
		{"hostname too long", "AA:BB:CC:DD:EE:04", strings.Repeat("h", 256), "linux", ""},
		{"os type too long", "AA:BB:CC:DD:EE:04", "host", strings.Repeat("l", 51), ""},
		{"os version too long", "AA:BB:CC:DD:EE:04", "host", "linux", strings.Repeat("v", 101)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.hardwareAddress, tc.hostname, tc.osType, tc.osVersion)
			var verr ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	// Nothing was persisted.
	_, total, err := svc.ListMachines(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRegister_TrimsWhitespace(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	result, err := svc.Register(context.Background(), "  AA:BB:CC:DD:EE:05  ", " host ", " linux ", " 22.04 ")
	require.NoError(t, err)

	m, err := store.GetMachine(context.Background(), result.MachineID)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:05", m.HardwareAddress)
	assert.Equal(t, "host", m.Hostname)
	assert.Equal(t, "linux", m.OSType)
	assert.Equal(t, "22.04", m.OSVersion)
}

func TestAuthenticateAgent_UnknownCredential(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.AuthenticateAgent(context.Background(), auth.HashCredential("ma_deadbeef"))
	assert.ErrorIs(t, err, ErrMachineNotFound)
}

// registerTestMachine registers a machine and moves it to the given status
// with a known last_seen, so heartbeat and command tests start from a
// deterministic state.
func registerTestMachine(t *testing.T, svc *Service, store *fakeStore, status string, lastSeen time.Time) *Machine {
	t.Helper()

	result, err := svc.Register(context.Background(), "AA:BB:CC:DD:EE:FF", "test-host", "linux", "22.04")
	require.NoError(t, err)

	store.mu.Lock()
	m := store.machines[result.MachineID]
	m.Status = status
	m.LastSeen = lastSeen
	cp := *m
	store.mu.Unlock()
	return &cp
}
