package machines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/greenops-hq/greenops-server/internal/auth"
)

// ValidationError indicates malformed registration input; handlers map it
// to 422 before anything touches the store.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

const (
	maxHardwareAddressLen = 17
	maxHostnameLen        = 255
	maxOSTypeLen          = 50
	maxOSVersionLen       = 100
)

type RegisterResult struct {
	MachineID  uuid.UUID
	Credential string
	Message    string
}

// Register upserts a machine keyed by hardware address. A new machine
// starts offline with zero counters; an existing one has its hostname and
// OS fields refreshed. The credential rotates on every call because it is
// only ever transmitted here and is not retrievable later.
func (s *Service) Register(ctx context.Context, hardwareAddress, hostname, osType, osVersion string) (*RegisterResult, error) {
	hardwareAddress = strings.TrimSpace(hardwareAddress)
	hostname = strings.TrimSpace(hostname)
	osType = strings.TrimSpace(osType)
	osVersion = strings.TrimSpace(osVersion)

	switch {
	case hardwareAddress == "":
		return nil, ValidationError("hardware_address is required")
	case hostname == "":
		return nil, ValidationError("hostname is required")
	case osType == "":
		return nil, ValidationError("os_type is required")
	case len(hardwareAddress) > maxHardwareAddressLen:
		return nil, ValidationError(fmt.Sprintf("hardware_address must be at most %d characters", maxHardwareAddressLen))
	case len(hostname) > maxHostnameLen:
		return nil, ValidationError(fmt.Sprintf("hostname must be at most %d characters", maxHostnameLen))
	case len(osType) > maxOSTypeLen:
		return nil, ValidationError(fmt.Sprintf("os_type must be at most %d characters", maxOSTypeLen))
	case len(osVersion) > maxOSVersionLen:
		return nil, ValidationError(fmt.Sprintf("os_version must be at most %d characters", maxOSVersionLen))
	}

	credential, err := auth.NewAgentCredential()
	if err != nil {
		return nil, fmt.Errorf("generate credential: %w", err)
	}
	credentialHash := auth.HashCredential(credential)

	now := s.now().UTC()

	existing, err := s.store.GetMachineByHardwareAddress(ctx, hardwareAddress)
	switch {
	case err == nil:
		existing.Hostname = hostname
		existing.OSType = osType
		existing.OSVersion = osVersion
		existing.LastSeen = now
		existing.CredentialHash = credentialHash
		if err := s.store.UpdateRegistration(ctx, existing); err != nil {
			return nil, fmt.Errorf("update machine: %w", err)
		}
		slog.Info("Machine re-registered", "machine_id", existing.ID, "hostname", hostname)
		return &RegisterResult{
			MachineID:  existing.ID,
			Credential: credential,
			Message:    "Machine updated, credential rotated",
		}, nil

	case errors.Is(err, ErrMachineNotFound):
		m := &Machine{
			ID:              uuid.New(),
			HardwareAddress: hardwareAddress,
			Hostname:        hostname,
			OSType:          osType,
			OSVersion:       osVersion,
			Status:          StatusOffline,
			FirstSeen:       now,
			LastSeen:        now,
			CredentialHash:  credentialHash,
		}
		if err := s.store.CreateMachine(ctx, m); err != nil {
			return nil, fmt.Errorf("create machine: %w", err)
		}
		slog.Info("Machine registered", "machine_id", m.ID, "hostname", hostname)
		return &RegisterResult{
			MachineID:  m.ID,
			Credential: credential,
			Message:    "Machine registered",
		}, nil

	default:
		return nil, fmt.Errorf("lookup machine: %w", err)
	}
}
