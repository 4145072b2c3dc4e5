package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quorumd.io/server/internal/cluster"
	"quorumd.io/server/models"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	manager    *cluster.Manager
	instanceID string
}

// NewHealthHandler creates a new health handler.
//
// Parameters:
//   - manager: Cluster manager for member state
//   - instanceID: This instance's UUID
//
// Returns:
//   - Configured HealthHandler
func NewHealthHandler(manager *cluster.Manager, instanceID string) *HealthHandler {
	return &HealthHandler{manager: manager, instanceID: instanceID}
}

// Liveness handles GET /health/live
//
// Reports that the process is up; it carries no replica-set semantics.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready
//
// A node is ready when it serves a usable copy of the log (PRIMARY or
// SECONDARY) or is a configured arbiter.
func (h *HealthHandler) Readiness(c *gin.Context) {
	state := h.manager.MemberState()
	ready := state.Readable() || state == models.StateArbiter
	status := http.StatusOK
	body := gin.H{
		"status":      "ok",
		"instance_id": h.instanceID,
		"state":       state.String(),
	}
	if !ready {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
