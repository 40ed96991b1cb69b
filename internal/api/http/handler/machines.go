package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/greenops-hq/greenops-server/internal/api/http/dto"
	"github.com/greenops-hq/greenops-server/internal/machines"
)

// MachinesHandler serves the operator dashboard surface.
type MachinesHandler struct {
	service *machines.Service
}

func NewMachinesHandler(service *machines.Service) *MachinesHandler {
	return &MachinesHandler{service: service}
}

func machineToResponse(m machines.Machine) dto.MachineResponse {
	return dto.MachineResponse{
		ID:                 m.ID.String(),
		HardwareAddress:    m.HardwareAddress,
		Hostname:           m.Hostname,
		OSType:             m.OSType,
		OSVersion:          m.OSVersion,
		Status:             m.Status,
		FirstSeen:          m.FirstSeen,
		LastSeen:           m.LastSeen,
		TotalIdleSeconds:   m.TotalIdleSeconds,
		TotalActiveSeconds: m.TotalActiveSeconds,
		UptimeSeconds:      m.UptimeSeconds,
		UptimeHours:        float64(m.UptimeSeconds) / 3600,
		EnergyWastedKWh:    m.EnergyWastedKWh,
	}
}

func pathMachineID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid machine id"})
		return uuid.Nil, false
	}
	return id, true
}

// List handles GET /api/machines with optional status filter and
// pagination.
func (h *MachinesHandler) List(c *gin.Context) {
	status := c.Query("status")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "limit must be an integer"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "offset must be an integer"})
		return
	}

	result, total, err := h.service.ListMachines(c.Request.Context(), status, limit, offset)
	if err != nil {
		var verr machines.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error()})
			return
		}
		slog.Error("Failed to list machines", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list machines"})
		return
	}

	resp := dto.ListMachinesResponse{
		Machines: make([]dto.MachineResponse, len(result)),
		Total:    total,
	}
	for i, m := range result {
		resp.Machines[i] = machineToResponse(m)
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/machines/:id.
func (h *MachinesHandler) Get(c *gin.Context) {
	id, ok := pathMachineID(c)
	if !ok {
		return
	}

	m, err := h.service.GetMachine(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, machines.ErrMachineNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "machine not found"})
			return
		}
		slog.Error("Failed to get machine", "error", err, "machine_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get machine"})
		return
	}

	c.JSON(http.StatusOK, machineToResponse(*m))
}

// Heartbeats handles GET /api/machines/:id/heartbeats.
func (h *MachinesHandler) Heartbeats(c *gin.Context) {
	id, ok := pathMachineID(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		limit = 100
	}

	heartbeats, err := h.service.MachineHeartbeats(c.Request.Context(), id, limit)
	if err != nil {
		if errors.Is(err, machines.ErrMachineNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "machine not found"})
			return
		}
		slog.Error("Failed to list heartbeats", "error", err, "machine_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list heartbeats"})
		return
	}

	resp := dto.MachineHeartbeatsResponse{
		MachineID:  id.String(),
		Heartbeats: make([]dto.HeartbeatRecord, len(heartbeats)),
	}
	for i, hb := range heartbeats {
		resp.Heartbeats[i] = dto.HeartbeatRecord{
			ID:          hb.ID,
			Timestamp:   hb.Timestamp,
			IdleSeconds: hb.IdleSeconds,
			CPUUsage:    hb.CPUUsage,
			MemoryUsage: hb.MemoryUsage,
			IsIdle:      hb.IsIdle,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Delete handles DELETE /api/machines/:id. Cascades to heartbeats and
// commands.
func (h *MachinesHandler) Delete(c *gin.Context) {
	id, ok := pathMachineID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteMachine(c.Request.Context(), id); err != nil {
		if errors.Is(err, machines.ErrMachineNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "machine not found"})
			return
		}
		slog.Error("Failed to delete machine", "error", err, "machine_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete machine"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "machine deleted"})
}

// Sleep handles POST /api/machines/:id/sleep.
func (h *MachinesHandler) Sleep(c *gin.Context) {
	h.enqueue(c, machines.CommandSleep)
}

// Shutdown handles POST /api/machines/:id/shutdown.
func (h *MachinesHandler) Shutdown(c *gin.Context) {
	h.enqueue(c, machines.CommandShutdown)
}

func (h *MachinesHandler) enqueue(c *gin.Context, command string) {
	id, ok := pathMachineID(c)
	if !ok {
		return
	}

	issuedBy, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity missing from context"})
		return
	}

	cmd, err := h.service.EnqueueCommand(c.Request.Context(), id, command, issuedBy)
	if err != nil {
		switch {
		case errors.Is(err, machines.ErrMachineNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "machine not found"})
		case errors.Is(err, machines.ErrMachineOffline):
			c.JSON(http.StatusConflict, gin.H{"error": "cannot send command to an offline machine"})
		default:
			slog.Error("Failed to enqueue command", "error", err, "machine_id", id, "command", command)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue command"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.EnqueueCommandResponse{
		Message:   fmt.Sprintf("%q command queued, agent will execute on next poll", command),
		CommandID: cmd.ID.String(),
		MachineID: id.String(),
	})
}

// Stats handles GET /api/dashboard/stats.
func (h *MachinesHandler) Stats(c *gin.Context) {
	stats, err := h.service.FleetStats(c.Request.Context())
	if err != nil {
		slog.Error("Failed to compute fleet stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, dto.FleetStatsResponse{
		TotalMachines:        stats.TotalMachines,
		OnlineMachines:       stats.OnlineMachines,
		IdleMachines:         stats.IdleMachines,
		OfflineMachines:      stats.OfflineMachines,
		TotalEnergyWastedKWh: stats.TotalEnergyWastedKWh,
		TotalIdleSeconds:     stats.TotalIdleSeconds,
		EstimatedCost:        stats.TotalEnergyWastedKWh * h.service.Config().ElectricityCostPerKWh,
	})
}
