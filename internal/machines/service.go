package machines

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config carries the fleet classification and energy accounting knobs.
type Config struct {
	IdleThresholdSeconds        int64   `mapstructure:"idle_threshold_seconds"`
	HeartbeatTimeoutSeconds     int64   `mapstructure:"heartbeat_timeout_seconds"`
	OfflineCheckIntervalSeconds int     `mapstructure:"offline_check_interval_seconds"`
	IdlePowerWatts              float64 `mapstructure:"idle_power_watts"`
	ActivePowerWatts            float64 `mapstructure:"active_power_watts"`
	ElectricityCostPerKWh       float64 `mapstructure:"electricity_cost_per_kwh"`
}

// DefaultConfig mirrors the documented defaults of the deployment
// environment.
func DefaultConfig() Config {
	return Config{
		IdleThresholdSeconds:        300,
		HeartbeatTimeoutSeconds:     180,
		OfflineCheckIntervalSeconds: 60,
		IdlePowerWatts:              65,
		ActivePowerWatts:            120,
		ElectricityCostPerKWh:       0.12,
	}
}

func (c Config) Validate() error {
	if c.IdleThresholdSeconds <= 0 {
		return errors.New("idle_threshold_seconds must be positive")
	}
	if c.HeartbeatTimeoutSeconds <= 0 {
		return errors.New("heartbeat_timeout_seconds must be positive")
	}
	if c.OfflineCheckIntervalSeconds <= 0 {
		return errors.New("offline_check_interval_seconds must be positive")
	}
	if c.IdlePowerWatts < 0 || c.ActivePowerWatts < 0 {
		return errors.New("power draw values must not be negative")
	}
	if c.ElectricityCostPerKWh < 0 {
		return errors.New("electricity_cost_per_kwh must not be negative")
	}
	return nil
}

// Service implements machine registration, heartbeat processing, the
// command queue and the dashboard queries over an injected Store.
type Service struct {
	store  Store
	config Config
	now    func() time.Time
}

func NewService(store Store, config Config) *Service {
	return &Service{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

func (s *Service) Config() Config {
	return s.config
}

// AuthenticateAgent resolves an agent credential to its machine. Used by
// the agent auth middleware.
func (s *Service) AuthenticateAgent(ctx context.Context, credentialHash string) (*Machine, error) {
	m, err := s.store.GetMachineByCredentialHash(ctx, credentialHash)
	if err != nil {
		if errors.Is(err, ErrMachineNotFound) {
			return nil, ErrMachineNotFound
		}
		return nil, fmt.Errorf("authenticate agent: %w", err)
	}
	return m, nil
}
