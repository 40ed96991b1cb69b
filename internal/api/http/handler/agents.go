package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/greenops-hq/greenops-server/internal/api/http/dto"
	"github.com/greenops-hq/greenops-server/internal/api/http/middleware"
	"github.com/greenops-hq/greenops-server/internal/machines"
)

// AgentsHandler serves the agent-facing surface: registration, heartbeats,
// command polling and result reports.
type AgentsHandler struct {
	service *machines.Service
}

func NewAgentsHandler(service *machines.Service) *AgentsHandler {
	return &AgentsHandler{service: service}
}

// machineID pulls the authenticated machine's ID set by AgentAuth.
func machineID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(middleware.MachineIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "machine identity missing from context"})
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "machine identity missing from context"})
		return uuid.Nil, false
	}
	return id, true
}

// Register handles POST /api/agents/register. Unauthenticated: this is the
// only call where the agent has no credential yet.
func (h *AgentsHandler) Register(c *gin.Context) {
	var req dto.RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Register(c.Request.Context(), req.HardwareAddress, req.Hostname, req.OSType, req.OSVersion)
	if err != nil {
		var verr machines.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error()})
			return
		}
		slog.Error("Agent registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register machine"})
		return
	}

	c.JSON(http.StatusOK, dto.RegisterAgentResponse{
		MachineID:  result.MachineID.String(),
		Credential: result.Credential,
		Message:    result.Message,
	})
}

// Heartbeat handles POST /api/agents/heartbeat.
func (h *AgentsHandler) Heartbeat(c *gin.Context) {
	id, ok := machineID(c)
	if !ok {
		return
	}

	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.ProcessHeartbeat(c.Request.Context(), id, machines.HeartbeatInput{
		IdleSeconds:   *req.IdleSeconds,
		CPUUsage:      req.CPUUsage.Ptr(),
		MemoryUsage:   req.MemoryUsage.Ptr(),
		UptimeSeconds: req.UptimeSeconds.Ptr(),
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		var verr machines.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error()})
		case errors.Is(err, machines.ErrStaleTimestamp):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "timestamp is older than the machine's last seen time"})
		case errors.Is(err, machines.ErrMachineNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "machine not found"})
		default:
			slog.Error("Heartbeat processing failed", "error", err, "machine_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process heartbeat"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.HeartbeatResponse{
		Status:          result.Status,
		EnergyWastedKWh: result.EnergyWastedKWh,
		Cost:            result.Cost,
	})
}

// PendingCommands handles GET /api/agents/commands. Read-only; an agent
// may poll repeatedly before acting.
func (h *AgentsHandler) PendingCommands(c *gin.Context) {
	id, ok := machineID(c)
	if !ok {
		return
	}

	commands, err := h.service.PendingCommands(c.Request.Context(), id)
	if err != nil {
		slog.Error("Failed to list pending commands", "error", err, "machine_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list commands"})
		return
	}

	resp := dto.PendingCommandsResponse{Commands: make([]dto.PendingCommand, len(commands))}
	for i, cmd := range commands {
		resp.Commands[i] = dto.PendingCommand{ID: cmd.ID.String(), Command: cmd.Command}
	}
	c.JSON(http.StatusOK, resp)
}

// ReportResult handles POST /api/agents/commands/:id/result. Duplicate or
// late reports find no pending row and get a 404.
func (h *AgentsHandler) ReportResult(c *gin.Context) {
	id, ok := machineID(c)
	if !ok {
		return
	}

	commandID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command id"})
		return
	}

	var req dto.ReportResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.ReportCommandResult(c.Request.Context(), commandID, id, req.Status, req.Message); err != nil {
		var verr machines.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error()})
		case errors.Is(err, machines.ErrCommandNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "command not found or already processed"})
		default:
			slog.Error("Failed to record command result", "error", err, "command_id", commandID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record result"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "result recorded"})
}
