package machines

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/greenops-hq/greenops-server/internal/metrics"
)

// HeartbeatInput is a validated heartbeat sample. Optional gauges that
// failed to parse upstream arrive as nil and are simply not recorded.
type HeartbeatInput struct {
	IdleSeconds   int64
	CPUUsage      *float64
	MemoryUsage   *float64
	UptimeSeconds *int64
	Timestamp     *time.Time
}

type HeartbeatResult struct {
	Status          string
	EnergyWastedKWh float64
	Cost            float64
}

// wattSecondsPerKWh converts accumulated watt-seconds to kilowatt-hours.
const wattSecondsPerKWh = 3_600_000

// ProcessHeartbeat classifies the machine, accrues idle/active time and
// energy waste, and persists the updated machine plus the immutable
// heartbeat record in one transaction.
//
// The elapsed interval since last_seen is clamped to the heartbeat timeout
// so a single delayed heartbeat after a long outage cannot inflate the
// accrual. The whole interval is credited to the state observed at this
// heartbeat.
func (s *Service) ProcessHeartbeat(ctx context.Context, machineID uuid.UUID, in HeartbeatInput) (*HeartbeatResult, error) {
	if in.IdleSeconds < 0 {
		return nil, ValidationError("idle_seconds must be >= 0")
	}

	m, err := s.store.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	effective := s.now().UTC()
	if in.Timestamp != nil {
		ts := in.Timestamp.UTC()
		if ts.Before(m.LastSeen) {
			return nil, ErrStaleTimestamp
		}
		effective = ts
	}

	elapsed := int64(effective.Sub(m.LastSeen) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > s.config.HeartbeatTimeoutSeconds {
		elapsed = s.config.HeartbeatTimeoutSeconds
	}

	isIdle := in.IdleSeconds >= s.config.IdleThresholdSeconds

	watts := s.config.ActivePowerWatts
	if isIdle {
		watts = s.config.IdlePowerWatts
		m.Status = StatusIdle
		m.TotalIdleSeconds += elapsed
	} else {
		m.Status = StatusOnline
		m.TotalActiveSeconds += elapsed
	}

	energyDelta := watts * float64(elapsed) / wattSecondsPerKWh
	m.EnergyWastedKWh += energyDelta
	m.LastSeen = effective
	if in.UptimeSeconds != nil && *in.UptimeSeconds >= 0 {
		m.UptimeSeconds = *in.UptimeSeconds
	}

	hb := &Heartbeat{
		MachineID:   m.ID,
		Timestamp:   effective,
		IdleSeconds: in.IdleSeconds,
		CPUUsage:    in.CPUUsage,
		MemoryUsage: in.MemoryUsage,
		IsIdle:      isIdle,
	}

	if err := s.store.SaveHeartbeat(ctx, m, hb); err != nil {
		return nil, fmt.Errorf("save heartbeat: %w", err)
	}

	metrics.HeartbeatsProcessed.Inc()
	slog.Debug("Heartbeat processed",
		"machine_id", m.ID,
		"status", m.Status,
		"elapsed_seconds", elapsed,
		"energy_delta_kwh", energyDelta)

	return &HeartbeatResult{
		Status:          m.Status,
		EnergyWastedKWh: m.EnergyWastedKWh,
		Cost:            energyDelta * s.config.ElectricityCostPerKWh,
	}, nil
}
