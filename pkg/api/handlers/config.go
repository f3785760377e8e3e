package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// ConfigHandler handles the enforcement configuration record
type ConfigHandler struct {
	policyManager policy.Manager
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(pm policy.Manager) *ConfigHandler {
	return &ConfigHandler{policyManager: pm}
}

func toConfigResponse(cfg policy.Config, stored bool) models.ConfigResponse {
	if !stored {
		cfg = policy.DefaultConfig()
	}
	return models.ConfigResponse{
		Mode:   cfg.Mode.String(),
		Target: cfg.Target.String(),
		Stored: stored,
	}
}

// GetConfig handles GET /api/v1/config
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	cfg, stored := h.policyManager.GetConfig()
	c.JSON(http.StatusOK, toConfigResponse(cfg, stored))
}

// UpdateConfig handles PUT /api/v1/config
func (h *ConfigHandler) UpdateConfig(c *gin.Context) {
	var req models.ConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Invalid request body", err.Error())
		return
	}

	mode, err := policy.ParseMode(req.Mode)
	if err == nil {
		var target policy.Target
		target, err = policy.ParseTarget(req.Target)
		if err == nil {
			err = h.policyManager.SetConfig(policy.Config{Mode: mode, Target: target})
		}
	}
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Errorf("Failed to update config: %v", err)
		}
		respondError(c, status, errorCode(status), "Failed to update config", err.Error())
		return
	}

	cfg, stored := h.policyManager.GetConfig()
	c.JSON(http.StatusOK, toConfigResponse(cfg, stored))
}
