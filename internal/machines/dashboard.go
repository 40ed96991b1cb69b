package machines

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

const maxListLimit = 1000

// ListMachines returns a page of machines plus the total count for the
// requested status filter.
func (s *Service) ListMachines(ctx context.Context, statusFilter string, limit, offset int) ([]Machine, int64, error) {
	if statusFilter != "" && !ValidStatus(statusFilter) {
		return nil, 0, ValidationError("status must be one of: online, idle, offline")
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListMachines(ctx, statusFilter, limit, offset)
}

func (s *Service) GetMachine(ctx context.Context, id uuid.UUID) (*Machine, error) {
	return s.store.GetMachine(ctx, id)
}

func (s *Service) MachineHeartbeats(ctx context.Context, machineID uuid.UUID, limit int) ([]Heartbeat, error) {
	if limit <= 0 {
		limit = 100
	} else if limit > maxListLimit {
		limit = maxListLimit
	}
	if _, err := s.store.GetMachine(ctx, machineID); err != nil {
		return nil, err
	}
	return s.store.ListHeartbeats(ctx, machineID, limit)
}

// DeleteMachine removes a machine and, via cascade, its heartbeats and
// commands. Operator action only; nothing deletes machines automatically.
func (s *Service) DeleteMachine(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteMachine(ctx, id); err != nil {
		return err
	}
	slog.Info("Machine deleted", "machine_id", id)
	return nil
}

func (s *Service) FleetStats(ctx context.Context) (*FleetStats, error) {
	stats, err := s.store.FleetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("fleet stats: %w", err)
	}
	return stats, nil
}
