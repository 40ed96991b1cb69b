package machines

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/greenops-hq/greenops-server/internal/metrics"
)

const (
	// pollBatchSize bounds how many pending commands one poll returns.
	pollBatchSize = 5

	maxResultMsgLen = 500
)

// EnqueueCommand queues a remote command for an agent. Queuing against an
// offline machine fails with ErrMachineOffline. Any command still pending
// for the machine is expired in the same transaction, so at most one
// pending command exists per machine at any instant.
func (s *Service) EnqueueCommand(ctx context.Context, machineID uuid.UUID, command string, issuedBy uuid.UUID) (*Command, error) {
	if !ValidCommand(command) {
		return nil, ValidationError(fmt.Sprintf("unsupported command %q", command))
	}

	m, err := s.store.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusOffline {
		return nil, ErrMachineOffline
	}

	cmd := &Command{
		ID:        uuid.New(),
		MachineID: machineID,
		Command:   command,
		Status:    CommandStatusPending,
		CreatedBy: issuedBy,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.ReplacePendingCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("enqueue command: %w", err)
	}

	metrics.CommandsQueued.Inc()
	slog.Info("Command queued",
		"command", command,
		"machine_id", machineID,
		"command_id", cmd.ID,
		"issued_by", issuedBy)
	return cmd, nil
}

// PendingCommands returns up to pollBatchSize pending commands for the
// machine, oldest first. Read-only: polling does not change command state.
func (s *Service) PendingCommands(ctx context.Context, machineID uuid.UUID) ([]Command, error) {
	return s.store.PendingCommands(ctx, machineID, pollBatchSize)
}

// ReportCommandResult records the agent's terminal result for a command.
// Only a row that is still pending and belongs to the reporting machine is
// updated; duplicate or late reports find no matching row and come back as
// ErrCommandNotFound.
func (s *Service) ReportCommandResult(ctx context.Context, commandID, machineID uuid.UUID, status, message string) error {
	if status != CommandStatusExecuted && status != CommandStatusFailed {
		return ValidationError(fmt.Sprintf("status must be %q or %q", CommandStatusExecuted, CommandStatusFailed))
	}
	if len(message) > maxResultMsgLen {
		message = message[:maxResultMsgLen]
	}

	matched, err := s.store.CompleteCommand(ctx, commandID, machineID, status, message)
	if err != nil {
		return fmt.Errorf("report command result: %w", err)
	}
	if !matched {
		return ErrCommandNotFound
	}

	slog.Info("Command result recorded",
		"command_id", commandID,
		"machine_id", machineID,
		"status", status)
	return nil
}
