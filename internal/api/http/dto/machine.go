package dto

import "time"

type MachineResponse struct {
	ID                 string     `json:"id"`
	HardwareAddress    string     `json:"hardware_address"`
	Hostname           string     `json:"hostname"`
	OSType             string     `json:"os_type"`
	OSVersion          string     `json:"os_version,omitempty"`
	Status             string     `json:"status"`
	FirstSeen          time.Time  `json:"first_seen"`
	LastSeen           time.Time  `json:"last_seen"`
	TotalIdleSeconds   int64      `json:"total_idle_seconds"`
	TotalActiveSeconds int64      `json:"total_active_seconds"`
	UptimeSeconds      int64      `json:"uptime_seconds"`
	UptimeHours        float64    `json:"uptime_hours"`
	EnergyWastedKWh    float64    `json:"energy_wasted_kwh"`
}

type ListMachinesResponse struct {
	Machines []MachineResponse `json:"machines"`
	Total    int64             `json:"total"`
}

type HeartbeatRecord struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	IdleSeconds int64     `json:"idle_seconds"`
	CPUUsage    *float64  `json:"cpu_usage"`
	MemoryUsage *float64  `json:"memory_usage"`
	IsIdle      bool      `json:"is_idle"`
}

type MachineHeartbeatsResponse struct {
	MachineID  string            `json:"machine_id"`
	Heartbeats []HeartbeatRecord `json:"heartbeats"`
}

type EnqueueCommandResponse struct {
	Message   string `json:"message"`
	CommandID string `json:"command_id"`
	MachineID string `json:"machine_id"`
}

type FleetStatsResponse struct {
	TotalMachines        int64   `json:"total_machines"`
	OnlineMachines       int64   `json:"online_machines"`
	IdleMachines         int64   `json:"idle_machines"`
	OfflineMachines      int64   `json:"offline_machines"`
	TotalEnergyWastedKWh float64 `json:"total_energy_wasted_kwh"`
	TotalIdleSeconds     int64   `json:"total_idle_seconds"`
	EstimatedCost        float64 `json:"estimated_cost"`
}
