package machines

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMachineNotFound = errors.New("machine not found")
	ErrCommandNotFound = errors.New("command not found or already processed")
	ErrMachineOffline  = errors.New("machine is offline")
	ErrStaleTimestamp  = errors.New("heartbeat timestamp is older than last seen")
)

// Store is the persistence boundary for the fleet. The production
// implementation runs on pgx; unit tests use an in-memory fake.
type Store interface {
	GetMachine(ctx context.Context, id uuid.UUID) (*Machine, error)
	GetMachineByHardwareAddress(ctx context.Context, addr string) (*Machine, error)
	GetMachineByCredentialHash(ctx context.Context, hash string) (*Machine, error)
	CreateMachine(ctx context.Context, m *Machine) error

	// UpdateRegistration refreshes hostname, OS fields, last_seen and the
	// credential hash of an already registered machine.
	UpdateRegistration(ctx context.Context, m *Machine) error

	// SaveHeartbeat persists the updated machine row and the new heartbeat
	// record in a single transaction.
	SaveHeartbeat(ctx context.Context, m *Machine, hb *Heartbeat) error

	ListMachines(ctx context.Context, statusFilter string, limit, offset int) ([]Machine, int64, error)
	ListHeartbeats(ctx context.Context, machineID uuid.UUID, limit int) ([]Heartbeat, error)
	DeleteMachine(ctx context.Context, id uuid.UUID) error
	FleetStats(ctx context.Context) (*FleetStats, error)

	// MarkStaleOffline demotes every non-offline machine whose last_seen is
	// before cutoff. Returns the number of machines demoted.
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error)

	// ExpireStaleCommands expires every pending command created before
	// cutoff. Returns the number of commands expired.
	ExpireStaleCommands(ctx context.Context, cutoff time.Time) (int64, error)

	// ReplacePendingCommand expires any pending command for the target
	// machine and inserts cmd as the sole pending one, atomically.
	ReplacePendingCommand(ctx context.Context, cmd *Command) error

	PendingCommands(ctx context.Context, machineID uuid.UUID, limit int) ([]Command, error)

	// CompleteCommand moves a command to a terminal state, but only if it
	// is still pending and belongs to machineID. Returns false when no row
	// matched.
	CompleteCommand(ctx context.Context, commandID, machineID uuid.UUID, status, resultMsg string) (bool, error)
}
