package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/greenops-hq/greenops-server/internal/api/http/dto"
	"github.com/greenops-hq/greenops-server/internal/db"
)

// HealthHandler answers 200 only when the store is reachable, so load
// balancers and container orchestrators see database outages.
type HealthHandler struct {
	pool *db.Pool
}

func NewHealthHandler(pool *db.Pool) *HealthHandler {
	return &HealthHandler{pool: pool}
}

func (h *HealthHandler) Check(c *gin.Context) {
	if err := h.pool.Ping(c.Request.Context()); err != nil {
		slog.Error("Health check database ping failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{
			Status:   "unhealthy",
			Database: "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:   "healthy",
		Database: "connected",
	})
}
