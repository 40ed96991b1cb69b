package machines

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/greenops-hq/greenops-server/internal/db"
)

const machineColumns = `id, hardware_address, hostname, os_type, COALESCE(os_version, ''),
	status, first_seen, last_seen, total_idle_seconds, total_active_seconds,
	uptime_seconds, energy_wasted_kwh, credential_hash, created_at, updated_at`

// PgStore is the pgx-backed Store. All access goes through the shared
// resource pool so a reinitialized pool is picked up transparently.
type PgStore struct {
	pool *db.Pool
}

func NewPgStore(pool *db.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func scanMachine(row pgx.Row) (*Machine, error) {
	var m Machine
	err := row.Scan(
		&m.ID, &m.HardwareAddress, &m.Hostname, &m.OSType, &m.OSVersion,
		&m.Status, &m.FirstSeen, &m.LastSeen, &m.TotalIdleSeconds, &m.TotalActiveSeconds,
		&m.UptimeSeconds, &m.EnergyWastedKWh, &m.CredentialHash, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMachineNotFound
		}
		return nil, fmt.Errorf("scan machine: %w", err)
	}
	return &m, nil
}

func (s *PgStore) GetMachine(ctx context.Context, id uuid.UUID) (*Machine, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE id = $1`, id)
	return scanMachine(row)
}

func (s *PgStore) GetMachineByHardwareAddress(ctx context.Context, addr string) (*Machine, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE hardware_address = $1`, addr)
	return scanMachine(row)
}

func (s *PgStore) GetMachineByCredentialHash(ctx context.Context, hash string) (*Machine, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE credential_hash = $1`, hash)
	return scanMachine(row)
}

func (s *PgStore) CreateMachine(ctx context.Context, m *Machine) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO machines
			(id, hardware_address, hostname, os_type, os_version, status,
			 first_seen, last_seen, credential_hash)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
		m.ID, m.HardwareAddress, m.Hostname, m.OSType, m.OSVersion,
		m.Status, m.FirstSeen, m.LastSeen, m.CredentialHash)
	if err != nil {
		return fmt.Errorf("create machine: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateRegistration(ctx context.Context, m *Machine) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE machines
		 SET hostname = $2, os_type = $3, os_version = NULLIF($4, ''),
		     last_seen = $5, credential_hash = $6, updated_at = NOW()
		 WHERE id = $1`,
		m.ID, m.Hostname, m.OSType, m.OSVersion, m.LastSeen, m.CredentialHash)
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMachineNotFound
	}
	return nil
}

func (s *PgStore) SaveHeartbeat(ctx context.Context, m *Machine, hb *Heartbeat) error {
	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE machines
			 SET status = $2, last_seen = $3, total_idle_seconds = $4,
			     total_active_seconds = $5, uptime_seconds = $6,
			     energy_wasted_kwh = $7, updated_at = NOW()
			 WHERE id = $1`,
			m.ID, m.Status, m.LastSeen, m.TotalIdleSeconds,
			m.TotalActiveSeconds, m.UptimeSeconds, m.EnergyWastedKWh)
		if err != nil {
			return fmt.Errorf("update machine: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrMachineNotFound
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO heartbeats
				(machine_id, timestamp, idle_seconds, cpu_usage, memory_usage, is_idle)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			hb.MachineID, hb.Timestamp, hb.IdleSeconds, hb.CPUUsage, hb.MemoryUsage, hb.IsIdle)
		if err != nil {
			return fmt.Errorf("insert heartbeat: %w", err)
		}
		return nil
	})
}

func (s *PgStore) ListMachines(ctx context.Context, statusFilter string, limit, offset int) ([]Machine, int64, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if statusFilter != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+machineColumns+` FROM machines
			 WHERE status = $1 ORDER BY last_seen DESC LIMIT $2 OFFSET $3`,
			statusFilter, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+machineColumns+` FROM machines
			 ORDER BY last_seen DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var result []Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list machines: %w", err)
	}

	var total int64
	if statusFilter != "" {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM machines WHERE status = $1`, statusFilter).Scan(&total)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM machines`).Scan(&total)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("count machines: %w", err)
	}

	return result, total, nil
}

func (s *PgStore) ListHeartbeats(ctx context.Context, machineID uuid.UUID, limit int) ([]Heartbeat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, machine_id, timestamp, idle_seconds, cpu_usage, memory_usage, is_idle
		 FROM heartbeats
		 WHERE machine_id = $1
		 ORDER BY timestamp DESC
		 LIMIT $2`,
		machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()

	var result []Heartbeat
	for rows.Next() {
		var hb Heartbeat
		if err := rows.Scan(&hb.ID, &hb.MachineID, &hb.Timestamp, &hb.IdleSeconds,
			&hb.CPUUsage, &hb.MemoryUsage, &hb.IsIdle); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		result = append(result, hb)
	}
	return result, rows.Err()
}

func (s *PgStore) DeleteMachine(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM machines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete machine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMachineNotFound
	}
	return nil
}

func (s *PgStore) FleetStats(ctx context.Context) (*FleetStats, error) {
	var stats FleetStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'online'),
		        COUNT(*) FILTER (WHERE status = 'idle'),
		        COUNT(*) FILTER (WHERE status = 'offline'),
		        COALESCE(SUM(energy_wasted_kwh), 0),
		        COALESCE(SUM(total_idle_seconds), 0)
		 FROM machines`).Scan(
		&stats.TotalMachines, &stats.OnlineMachines, &stats.IdleMachines,
		&stats.OfflineMachines, &stats.TotalEnergyWastedKWh, &stats.TotalIdleSeconds)
	if err != nil {
		return nil, fmt.Errorf("fleet stats: %w", err)
	}
	return &stats, nil
}

func (s *PgStore) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE machines
		 SET status = 'offline', updated_at = NOW()
		 WHERE status != 'offline' AND last_seen < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale offline: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) ExpireStaleCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE machine_commands
		 SET status = 'expired'
		 WHERE status = 'pending' AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale commands: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) ReplacePendingCommand(ctx context.Context, cmd *Command) error {
	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE machine_commands
			 SET status = 'expired'
			 WHERE machine_id = $1 AND status = 'pending'`,
			cmd.MachineID)
		if err != nil {
			return fmt.Errorf("expire pending commands: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO machine_commands (id, machine_id, command, created_by, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			cmd.ID, cmd.MachineID, cmd.Command, cmd.CreatedBy, cmd.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert command: %w", err)
		}
		return nil
	})
}

func (s *PgStore) PendingCommands(ctx context.Context, machineID uuid.UUID, limit int) ([]Command, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, machine_id, command, status, created_at
		 FROM machine_commands
		 WHERE machine_id = $1 AND status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $2`,
		machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending commands: %w", err)
	}
	defer rows.Close()

	var result []Command
	for rows.Next() {
		var c Command
		if err := rows.Scan(&c.ID, &c.MachineID, &c.Command, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PgStore) CompleteCommand(ctx context.Context, commandID, machineID uuid.UUID, status, resultMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE machine_commands
		 SET status = $3, executed_at = NOW(), result_msg = NULLIF($4, '')
		 WHERE id = $1 AND machine_id = $2 AND status = 'pending'`,
		commandID, machineID, status, resultMsg)
	if err != nil {
		return false, fmt.Errorf("complete command: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
