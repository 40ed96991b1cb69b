package machines

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueCommand_QueuesForOnlineMachine(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	operator := uuid.New()
	cmd, err := svc.EnqueueCommand(context.Background(), m.ID, CommandSleep, operator)
	require.NoError(t, err)
	assert.Equal(t, CommandSleep, cmd.Command)
	assert.Equal(t, CommandStatusPending, cmd.Status)
	assert.Equal(t, operator, cmd.CreatedBy)
	assert.Equal(t, 1, store.pendingCountFor(m.ID))
}

func TestEnqueueCommand_OfflineMachineRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	m := registerTestMachine(t, svc, store, StatusOffline, testBase)

	_, err := svc.EnqueueCommand(context.Background(), m.ID, CommandShutdown, uuid.New())
	assert.ErrorIs(t, err, ErrMachineOffline)
	assert.Zero(t, store.pendingCountFor(m.ID))
}

func TestEnqueueCommand_IdleMachineAccepted(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	m := registerTestMachine(t, svc, store, StatusIdle, testBase)

	_, err := svc.EnqueueCommand(context.Background(), m.ID, CommandSleep, uuid.New())
	assert.NoError(t, err)
}

func TestEnqueueCommand_SupersedesPending(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	first, err := svc.EnqueueCommand(ctx, m.ID, CommandSleep, uuid.New())
	require.NoError(t, err)

	second, err := svc.EnqueueCommand(ctx, m.ID, CommandShutdown, uuid.New())
	require.NoError(t, err)

	// Only the newest command is pending; the superseded one is expired.
	assert.Equal(t, 1, store.pendingCountFor(m.ID))
	pending, err := svc.PendingCommands(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	store.mu.Lock()
	assert.Equal(t, CommandStatusExpired, store.commands[first.ID].Status)
	store.mu.Unlock()

	// The superseded command can no longer be completed.
	err = svc.ReportCommandResult(ctx, first.ID, m.ID, CommandStatusExecuted, "")
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestEnqueueCommand_UnsupportedCommand(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	_, err := svc.EnqueueCommand(context.Background(), m.ID, "reboot", uuid.New())
	var verr ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEnqueueCommand_UnknownMachine(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.EnqueueCommand(context.Background(), uuid.New(), CommandSleep, uuid.New())
	assert.ErrorIs(t, err, ErrMachineNotFound)
}

func TestPendingCommands_DoesNotConsume(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	cmd, err := svc.EnqueueCommand(ctx, m.ID, CommandSleep, uuid.New())
	require.NoError(t, err)

	// Polling twice returns the same command both times.
	for i := 0; i < 2; i++ {
		pending, err := svc.PendingCommands(ctx, m.ID)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, cmd.ID, pending[0].ID)
	}
}

func TestPendingCommands_EmptyForIdleQueue(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	pending, err := svc.PendingCommands(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReportCommandResult_CompletesCommand(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	cmd, err := svc.EnqueueCommand(ctx, m.ID, CommandSleep, uuid.New())
	require.NoError(t, err)

	err = svc.ReportCommandResult(ctx, cmd.ID, m.ID, CommandStatusExecuted, "suspended ok")
	require.NoError(t, err)

	store.mu.Lock()
	stored := *store.commands[cmd.ID]
	store.mu.Unlock()
	assert.Equal(t, CommandStatusExecuted, stored.Status)
	assert.Equal(t, "suspended ok", stored.ResultMsg)
	require.NotNil(t, stored.ExecutedAt)

	// The command is no longer pending.
	pending, err := svc.PendingCommands(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReportCommandResult_DuplicateReport(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	cmd, err := svc.EnqueueCommand(ctx, m.ID, CommandSleep, uuid.New())
	require.NoError(t, err)

	require.NoError(t, svc.ReportCommandResult(ctx, cmd.ID, m.ID, CommandStatusFailed, "pm-suspend missing"))

	// Second report finds no pending row; the first result is untouched.
	err = svc.ReportCommandResult(ctx, cmd.ID, m.ID, CommandStatusExecuted, "")
	assert.ErrorIs(t, err, ErrCommandNotFound)

	store.mu.Lock()
	assert.Equal(t, CommandStatusFailed, store.commands[cmd.ID].Status)
	assert.Equal(t, "pm-suspend missing", store.commands[cmd.ID].ResultMsg)
	store.mu.Unlock()
}

func TestReportCommandResult_WrongMachine(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	cmd, err := svc.EnqueueCommand(ctx, m.ID, CommandSleep, uuid.New())
	require.NoError(t, err)

	// A different machine cannot complete someone else's command.
	err = svc.ReportCommandResult(ctx, cmd.ID, uuid.New(), CommandStatusExecuted, "")
	assert.ErrorIs(t, err, ErrCommandNotFound)
	assert.Equal(t, 1, store.pendingCountFor(m.ID))
}

func TestReportCommandResult_InvalidStatus(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	cmd, err := svc.EnqueueCommand(ctx, m.ID, CommandSleep, uuid.New())
	require.NoError(t, err)

	for _, status := range []string{"pending", "expired", "done", ""} {
		err = svc.ReportCommandResult(ctx, cmd.ID, m.ID, status, "")
		var verr ValidationError
		assert.ErrorAs(t, err, &verr, "status %q must be rejected", status)
	}
}

func TestReportCommandResult_TruncatesLongMessage(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	cmd, err := svc.EnqueueCommand(ctx, m.ID, CommandSleep, uuid.New())
	require.NoError(t, err)

	long := strings.Repeat("x", maxResultMsgLen+200)
	require.NoError(t, svc.ReportCommandResult(ctx, cmd.ID, m.ID, CommandStatusExecuted, long))

	store.mu.Lock()
	assert.Len(t, store.commands[cmd.ID].ResultMsg, maxResultMsgLen)
	store.mu.Unlock()
}

func TestPendingCommands_BatchLimit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	m := registerTestMachine(t, svc, store, StatusOnline, testBase)

	// Seed more pending commands than one poll may return. The service
	// never produces this state itself, but the batch bound must hold
	// regardless of what is in the table.
	store.mu.Lock()
	for i := 0; i < pollBatchSize+3; i++ {
		id := uuid.New()
		store.commands[id] = &Command{
			ID:        id,
			MachineID: m.ID,
			Command:   CommandSleep,
			Status:    CommandStatusPending,
			CreatedAt: testBase.Add(time.Duration(i) * time.Second),
		}
	}
	store.mu.Unlock()

	pending, err := svc.PendingCommands(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, pending, pollBatchSize)
	// Oldest first.
	for i := 1; i < len(pending); i++ {
		assert.True(t, !pending[i].CreatedAt.Before(pending[i-1].CreatedAt))
	}
}
