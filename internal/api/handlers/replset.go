// Package handlers provides HTTP handlers for the quorumd REST API: the
// replica-set wire surface (heartbeat, fresh, elect, freeze, sync-from,
// status, step-down) and health checks.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quorumd.io/server/internal/cluster"
	"quorumd.io/server/models"
)

// ReplSetHandler handles the replica-set endpoints.
type ReplSetHandler struct {
	manager *cluster.Manager
	started time.Time
}

// NewReplSetHandler creates a new replica-set handler.
//
// Parameters:
//   - manager: Cluster manager owning the topology coordinator
//
// Returns:
//   - Configured ReplSetHandler
func NewReplSetHandler(manager *cluster.Manager) *ReplSetHandler {
	return &ReplSetHandler{
		manager: manager,
		started: time.Now(),
	}
}

// respondError maps a sentinel error onto an HTTP status and a wire error
// body.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrBadValue), errors.Is(err, models.ErrInvalidOptions):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNodeNotFound), errors.Is(err, models.ErrReplicaSetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrNotSecondary):
		status = http.StatusConflict
	case errors.Is(err, models.ErrHostUnreachable), errors.Is(err, models.ErrShutdownInProgress):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, models.ErrorResponse{Ok: false, Errmsg: err.Error()})
}

// Heartbeat handles POST /v1/replset/heartbeat
//
// Peers exchange liveness and progress through this endpoint.
func (h *ReplSetHandler) Heartbeat(c *gin.Context) {
	var args models.HeartbeatArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		respondError(c, models.ErrBadValue)
		return
	}
	resp, err := h.manager.HandleHeartbeat(c.Request.Context(), args)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Fresh handles POST /v1/replset/fresh
//
// A candidate probes this node's freshness verdict before an election.
func (h *ReplSetHandler) Fresh(c *gin.Context) {
	var args models.FreshArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		respondError(c, models.ErrBadValue)
		return
	}
	resp, err := h.manager.HandleFresh(c.Request.Context(), args)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Elect handles POST /v1/replset/elect
//
// A candidate solicits this node's vote in an election round.
func (h *ReplSetHandler) Elect(c *gin.Context) {
	var args models.ElectArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		respondError(c, models.ErrBadValue)
		return
	}
	resp, err := h.manager.HandleElect(c.Request.Context(), args)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Freeze handles POST /v1/replset/freeze
//
// Request body:
//
//	{"secs": 20}
func (h *ReplSetHandler) Freeze(c *gin.Context) {
	var req struct {
		Secs *int `json:"secs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Secs == nil || *req.Secs < 0 {
		respondError(c, models.ErrBadValue)
		return
	}
	resp, err := h.manager.HandleFreeze(c.Request.Context(), *req.Secs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SyncFrom handles POST /v1/replset/syncFrom
//
// Request body:
//
//	{"host": "peer1:7217"}
func (h *ReplSetHandler) SyncFrom(c *gin.Context) {
	var req struct {
		Host string `json:"host"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Host == "" {
		respondError(c, models.ErrBadValue)
		return
	}
	target, err := models.NewHostPort(req.Host)
	if err != nil {
		respondError(c, err)
		return
	}
	resp, err := h.manager.HandleSyncFrom(c.Request.Context(), target)
	if err != nil {
		// Sync-from errors may carry a partial body (e.g. the echoed
		// request while primary); the error response dominates.
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StepDown handles POST /v1/replset/stepDown
//
// A fresher primary (or an operator) forces this node to relinquish
// primaryship.
func (h *ReplSetHandler) StepDown(c *gin.Context) {
	if err := h.manager.HandleStepDown(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Status handles GET /v1/replset/status
//
// Returns the full replica-set status document.
func (h *ReplSetHandler) Status(c *gin.Context) {
	resp, err := h.manager.Status(c.Request.Context(), time.Since(h.started))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
