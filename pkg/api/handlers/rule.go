package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// RuleHandler handles CIDR rule requests
type RuleHandler struct {
	policyManager policy.Manager
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(pm policy.Manager) *RuleHandler {
	return &RuleHandler{
		policyManager: pm,
	}
}

func toRuleResponse(r policy.Rule) models.RuleResponse {
	return models.RuleResponse{
		RuleID:      r.RuleID,
		CIDR:        r.CIDR,
		Action:      r.Action,
		Description: r.Description,
	}
}

// CreateRule handles POST /api/v1/rules
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var req models.RuleRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Invalid request body", err.Error())
		return
	}

	r := &policy.Rule{
		RuleID:      req.RuleID,
		CIDR:        req.CIDR,
		Action:      req.Action,
		Description: req.Description,
	}

	if err := h.policyManager.AddRule(r); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Errorf("Failed to add rule: %v", err)
		}
		respondError(c, status, errorCode(status), "Failed to add rule", err.Error())
		return
	}

	c.JSON(http.StatusCreated, toRuleResponse(*r))
}

// ListRules handles GET /api/v1/rules
func (h *RuleHandler) ListRules(c *gin.Context) {
	rules, err := h.policyManager.ListRules()
	if err != nil {
		log.Errorf("Failed to list rules: %v", err)
		respondError(c, http.StatusInternalServerError, "policy_error", "Failed to list rules", err.Error())
		return
	}

	responses := make([]models.RuleResponse, 0, len(rules))
	for _, r := range rules {
		responses = append(responses, toRuleResponse(r))
	}

	c.JSON(http.StatusOK, models.RuleListResponse{
		Rules: responses,
		Count: len(responses),
	})
}

// GetRule handles GET /api/v1/rules/:id
func (h *RuleHandler) GetRule(c *gin.Context) {
	ruleID, ok := parseRuleID(c)
	if !ok {
		return
	}

	r, err := h.policyManager.GetRule(ruleID)
	if err != nil {
		status := statusFor(err)
		respondError(c, status, errorCode(status), fmt.Sprintf("Rule with ID %d not found", ruleID), nil)
		return
	}

	c.JSON(http.StatusOK, toRuleResponse(r))
}

// DeleteRule handles DELETE /api/v1/rules/:id
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	ruleID, ok := parseRuleID(c)
	if !ok {
		return
	}

	if err := h.policyManager.DeleteRule(ruleID); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Errorf("Failed to delete rule: %v", err)
		}
		respondError(c, status, errorCode(status), "Failed to delete rule", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Rule with ID %d deleted successfully", ruleID),
	})
}

func parseRuleID(c *gin.Context) (uint32, bool) {
	ruleID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Invalid rule ID", err.Error())
		return 0, false
	}
	return uint32(ruleID), true
}
