package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/dataplane"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

var startTime = time.Now()

// StatusInfo is static information reported by the status endpoint.
type StatusInfo struct {
	Version string
	// Kernel is set when decisions are made by the loaded LSM program.
	Kernel bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	stats         dataplane.StatisticsProvider
	policyManager policy.Manager
	info          StatusInfo
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(sp dataplane.StatisticsProvider, pm policy.Manager, info StatusInfo) *HealthHandler {
	return &HealthHandler{
		stats:         sp,
		policyManager: pm,
		info:          info,
	}
}

// GetHealth handles GET /api/v1/health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Message: "API server is healthy",
	})
}

// GetStatus handles GET /api/v1/status
func (h *HealthHandler) GetStatus(c *gin.Context) {
	stats := h.stats.GetStatistics()
	overallStatus := "ok"

	dp := models.DataPlaneStatus{
		Kind:    "in-process",
		Status:  "running",
		Message: "Data plane is operational",
	}
	if h.info.Kernel {
		dp.Kind = "kernel"
	}
	if stats.Total == 0 {
		dp.Status = "idle"
		dp.Message = "Data plane is idle (no connections evaluated)"
	}

	response := models.StatusResponse{
		Version:    h.info.Version,
		DataPlane:  dp,
		API:        models.APIStatus{Status: "running", Message: "API server is operational"},
		Statistics: toStatisticsResponse(stats),
		Uptime:     int64(time.Since(startTime).Seconds()),
	}

	if h.policyManager != nil {
		cfg, stored := h.policyManager.GetConfig()
		cr := toConfigResponse(cfg, stored)
		response.Mode, response.Target, response.ConfigStored = cr.Mode, cr.Target, cr.Stored

		rules, err := h.policyManager.ListRules()
		if err != nil {
			overallStatus = "degraded"
		}
		response.RuleCount = len(rules)

		commands, err := h.policyManager.ListCommands()
		if err != nil {
			overallStatus = "degraded"
		}
		response.CommandCount = len(commands)
	}

	response.Status = overallStatus
	c.JSON(http.StatusOK, response)
}
