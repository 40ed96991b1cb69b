package machines

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusOffline = "offline"
)

const (
	CommandSleep    = "sleep"
	CommandShutdown = "shutdown"
)

const (
	CommandStatusPending  = "pending"
	CommandStatusExecuted = "executed"
	CommandStatusFailed   = "failed"
	CommandStatusExpired  = "expired"
)

type Machine struct {
	ID                 uuid.UUID
	HardwareAddress    string
	Hostname           string
	OSType             string
	OSVersion          string
	Status             string
	FirstSeen          time.Time
	LastSeen           time.Time
	TotalIdleSeconds   int64
	TotalActiveSeconds int64
	UptimeSeconds      int64
	EnergyWastedKWh    float64
	CredentialHash     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Heartbeat is an immutable observation; rows are only ever inserted, and
// removed via cascade when their machine is deleted.
type Heartbeat struct {
	ID          int64
	MachineID   uuid.UUID
	Timestamp   time.Time
	IdleSeconds int64
	CPUUsage    *float64
	MemoryUsage *float64
	IsIdle      bool
}

type Command struct {
	ID         uuid.UUID
	MachineID  uuid.UUID
	Command    string
	Status     string
	CreatedBy  uuid.UUID
	CreatedAt  time.Time
	ExecutedAt *time.Time
	ResultMsg  string
}

// FleetStats is the aggregate summary served to the dashboard.
type FleetStats struct {
	TotalMachines        int64
	OnlineMachines       int64
	IdleMachines         int64
	OfflineMachines      int64
	TotalEnergyWastedKWh float64
	TotalIdleSeconds     int64
}

func ValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusIdle, StatusOffline:
		return true
	}
	return false
}

func ValidCommand(command string) bool {
	return command == CommandSleep || command == CommandShutdown
}
