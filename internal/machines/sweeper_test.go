package machines

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenops-hq/greenops-server/internal/db"
)

func newTestSweeper(store Store) *Sweeper {
	return NewSweeper(store, nil, DefaultConfig())
}

func TestSweep_DemotesSilentMachines(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	silent, err := svc.Register(ctx, "AA:BB:CC:DD:EE:10", "silent", "linux", "")
	require.NoError(t, err)
	fresh, err := svc.Register(ctx, "AA:BB:CC:DD:EE:11", "fresh", "linux", "")
	require.NoError(t, err)

	now := testBase
	timeout := time.Duration(DefaultConfig().HeartbeatTimeoutSeconds) * time.Second
	store.mu.Lock()
	store.machines[silent.MachineID].Status = StatusOnline
	store.machines[silent.MachineID].LastSeen = now.Add(-timeout - time.Second)
	store.machines[fresh.MachineID].Status = StatusIdle
	store.machines[fresh.MachineID].LastSeen = now.Add(-timeout + time.Second)
	store.mu.Unlock()

	sweeper := newTestSweeper(store)
	sweeper.now = func() time.Time { return now }
	sweeper.Sweep(ctx)

	m, err := store.GetMachine(ctx, silent.MachineID)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, m.Status)

	m, err = store.GetMachine(ctx, fresh.MachineID)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, m.Status, "machines seen within the timeout are left alone")
}

func TestSweep_Idempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	r, err := svc.Register(ctx, "AA:BB:CC:DD:EE:12", "host", "linux", "")
	require.NoError(t, err)
	store.mu.Lock()
	store.machines[r.MachineID].Status = StatusOnline
	store.machines[r.MachineID].LastSeen = testBase.Add(-time.Hour)
	store.mu.Unlock()

	sweeper := newTestSweeper(store)
	sweeper.now = func() time.Time { return testBase }

	sweeper.Sweep(ctx)
	first, err := store.MarkStaleOffline(ctx, testBase) // everything already offline
	require.NoError(t, err)
	assert.Zero(t, first, "second pass has nothing left to demote")

	sweeper.Sweep(ctx)
	m, err := store.GetMachine(ctx, r.MachineID)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, m.Status)
}

func TestSweep_ExpiresStalePendingCommands(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	machineID := uuid.New()
	oldCmd := uuid.New()
	freshCmd := uuid.New()
	store.mu.Lock()
	store.commands[oldCmd] = &Command{
		ID:        oldCmd,
		MachineID: machineID,
		Command:   CommandSleep,
		Status:    CommandStatusPending,
		CreatedAt: testBase.Add(-commandGraceWindow - time.Second),
	}
	store.commands[freshCmd] = &Command{
		ID:        freshCmd,
		MachineID: machineID,
		Command:   CommandShutdown,
		Status:    CommandStatusPending,
		CreatedAt: testBase.Add(-commandGraceWindow + time.Minute),
	}
	store.mu.Unlock()

	sweeper := newTestSweeper(store)
	sweeper.now = func() time.Time { return testBase }
	sweeper.Sweep(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, CommandStatusExpired, store.commands[oldCmd].Status)
	assert.Equal(t, CommandStatusPending, store.commands[freshCmd].Status)
}

func TestSweep_LeavesTerminalCommandsAlone(t *testing.T) {
	store := newFakeStore()

	done := uuid.New()
	store.mu.Lock()
	store.commands[done] = &Command{
		ID:        done,
		MachineID: uuid.New(),
		Command:   CommandSleep,
		Status:    CommandStatusExecuted,
		CreatedAt: testBase.Add(-time.Hour),
	}
	store.mu.Unlock()

	sweeper := newTestSweeper(store)
	sweeper.now = func() time.Time { return testBase }
	sweeper.Sweep(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, CommandStatusExecuted, store.commands[done].Status)
}

func TestSweep_ContainsStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("query aborted")

	sweeper := newTestSweeper(store)
	// Must not panic and must return so the ticker loop can try again.
	sweeper.Sweep(context.Background())

	// Once the store recovers the sweep works again.
	store.failWith = nil
	sweeper.Sweep(context.Background())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := newFakeStore()
	config := DefaultConfig()
	config.OfflineCheckIntervalSeconds = 1
	sweeper := NewSweeper(store, nil, config)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}

func TestIsConnectivityError(t *testing.T) {
	assert.True(t, isConnectivityError(db.ErrNotInitialized))
	assert.True(t, isConnectivityError(fmt.Errorf("mark offline: %w", db.ErrNotInitialized)))
	assert.False(t, isConnectivityError(errors.New("constraint violation")))
	assert.False(t, isConnectivityError(context.Canceled))
}
