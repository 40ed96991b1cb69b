package machines

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store used by the unit tests. When failWith is
// set every call returns that error, which lets tests exercise the
// sweeper's containment behavior.
type fakeStore struct {
	mu         sync.Mutex
	machines   map[uuid.UUID]*Machine
	heartbeats []Heartbeat
	commands   map[uuid.UUID]*Command
	nextHBID   int64
	failWith   error

	lastHeartbeatLimit int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		machines: make(map[uuid.UUID]*Machine),
		commands: make(map[uuid.UUID]*Command),
	}
}

func (f *fakeStore) GetMachine(_ context.Context, id uuid.UUID) (*Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	m, ok := f.machines[id]
	if !ok {
		return nil, ErrMachineNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) GetMachineByHardwareAddress(_ context.Context, addr string) (*Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, m := range f.machines {
		if m.HardwareAddress == addr {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrMachineNotFound
}

func (f *fakeStore) GetMachineByCredentialHash(_ context.Context, hash string) (*Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, m := range f.machines {
		if m.CredentialHash == hash {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrMachineNotFound
}

func (f *fakeStore) CreateMachine(_ context.Context, m *Machine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	cp := *m
	f.machines[m.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateRegistration(_ context.Context, m *Machine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	existing, ok := f.machines[m.ID]
	if !ok {
		return ErrMachineNotFound
	}
	existing.Hostname = m.Hostname
	existing.OSType = m.OSType
	existing.OSVersion = m.OSVersion
	existing.LastSeen = m.LastSeen
	existing.CredentialHash = m.CredentialHash
	return nil
}

func (f *fakeStore) SaveHeartbeat(_ context.Context, m *Machine, hb *Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	existing, ok := f.machines[m.ID]
	if !ok {
		return ErrMachineNotFound
	}
	*existing = *m
	f.nextHBID++
	rec := *hb
	rec.ID = f.nextHBID
	f.heartbeats = append(f.heartbeats, rec)
	return nil
}

func (f *fakeStore) ListMachines(_ context.Context, statusFilter string, limit, offset int) ([]Machine, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, 0, f.failWith
	}
	var all []Machine
	for _, m := range f.machines {
		if statusFilter == "" || m.Status == statusFilter {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastSeen.After(all[j].LastSeen) })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (f *fakeStore) ListHeartbeats(_ context.Context, machineID uuid.UUID, limit int) ([]Heartbeat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHeartbeatLimit = limit
	if f.failWith != nil {
		return nil, f.failWith
	}
	var result []Heartbeat
	for i := len(f.heartbeats) - 1; i >= 0 && len(result) < limit; i-- {
		if f.heartbeats[i].MachineID == machineID {
			result = append(result, f.heartbeats[i])
		}
	}
	return result, nil
}

func (f *fakeStore) DeleteMachine(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.machines[id]; !ok {
		return ErrMachineNotFound
	}
	delete(f.machines, id)
	kept := f.heartbeats[:0]
	for _, hb := range f.heartbeats {
		if hb.MachineID != id {
			kept = append(kept, hb)
		}
	}
	f.heartbeats = kept
	for cmdID, cmd := range f.commands {
		if cmd.MachineID == id {
			delete(f.commands, cmdID)
		}
	}
	return nil
}

func (f *fakeStore) FleetStats(_ context.Context) (*FleetStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var stats FleetStats
	for _, m := range f.machines {
		stats.TotalMachines++
		switch m.Status {
		case StatusOnline:
			stats.OnlineMachines++
		case StatusIdle:
			stats.IdleMachines++
		case StatusOffline:
			stats.OfflineMachines++
		}
		stats.TotalEnergyWastedKWh += m.EnergyWastedKWh
		stats.TotalIdleSeconds += m.TotalIdleSeconds
	}
	return &stats, nil
}

func (f *fakeStore) MarkStaleOffline(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	var count int64
	for _, m := range f.machines {
		if m.Status != StatusOffline && m.LastSeen.Before(cutoff) {
			m.Status = StatusOffline
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ExpireStaleCommands(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	var count int64
	for _, cmd := range f.commands {
		if cmd.Status == CommandStatusPending && cmd.CreatedAt.Before(cutoff) {
			cmd.Status = CommandStatusExpired
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ReplacePendingCommand(_ context.Context, cmd *Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	for _, existing := range f.commands {
		if existing.MachineID == cmd.MachineID && existing.Status == CommandStatusPending {
			existing.Status = CommandStatusExpired
		}
	}
	cp := *cmd
	f.commands[cmd.ID] = &cp
	return nil
}

func (f *fakeStore) PendingCommands(_ context.Context, machineID uuid.UUID, limit int) ([]Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var result []Command
	for _, cmd := range f.commands {
		if cmd.MachineID == machineID && cmd.Status == CommandStatusPending {
			result = append(result, *cmd)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeStore) CompleteCommand(_ context.Context, commandID, mID uuid.UUID, status, resultMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	cmd, ok := f.commands[commandID]
	if !ok || cmd.MachineID != mID || cmd.Status != CommandStatusPending {
		return false, nil
	}
	cmd.Status = status
	cmd.ResultMsg = resultMsg
	now := time.Now()
	cmd.ExecutedAt = &now
	return true, nil
}

// pendingCountFor counts pending commands for a machine without the batch
// limit, for asserting the single-flight invariant.
func (f *fakeStore) pendingCountFor(machineID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, cmd := range f.commands {
		if cmd.MachineID == machineID && cmd.Status == CommandStatusPending {
			count++
		}
	}
	return count
}
