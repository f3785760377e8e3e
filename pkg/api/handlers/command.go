package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// CommandHandler handles exempt command requests
type CommandHandler struct {
	policyManager policy.Manager
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(pm policy.Manager) *CommandHandler {
	return &CommandHandler{policyManager: pm}
}

// AddCommand handles POST /api/v1/commands
func (h *CommandHandler) AddCommand(c *gin.Context) {
	var req models.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Invalid request body", err.Error())
		return
	}

	if err := h.policyManager.AddCommand(req.Name); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Errorf("Failed to add command: %v", err)
		}
		respondError(c, status, errorCode(status), "Failed to add command", err.Error())
		return
	}

	// Report the name as the hook sees it.
	cmd, _ := policy.ParseCommand(req.Name)
	c.JSON(http.StatusCreated, gin.H{"name": cmd.String()})
}

// ListCommands handles GET /api/v1/commands
func (h *CommandHandler) ListCommands(c *gin.Context) {
	names, err := h.policyManager.ListCommands()
	if err != nil {
		log.Errorf("Failed to list commands: %v", err)
		respondError(c, http.StatusInternalServerError, "policy_error", "Failed to list commands", err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}

	c.JSON(http.StatusOK, models.CommandListResponse{Commands: names, Count: len(names)})
}

// DeleteCommand handles DELETE /api/v1/commands/:name
func (h *CommandHandler) DeleteCommand(c *gin.Context) {
	name := c.Param("name")
	if err := h.policyManager.DeleteCommand(name); err != nil {
		status := statusFor(err)
		respondError(c, status, errorCode(status), fmt.Sprintf("Failed to delete command %q", name), err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Command %q deleted successfully", name),
	})
}
