package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/lpm"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// statusFor maps policy errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, policy.ErrRuleNotFound), errors.Is(err, lpm.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, policy.ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, lpm.ErrTableFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, policy.ErrInvalidRule),
		errors.Is(err, policy.ErrInvalidCommand),
		errors.Is(err, policy.ErrUnknownMode),
		errors.Is(err, policy.ErrUnknownTarget),
		errors.Is(err, lpm.ErrInvalidPrefix),
		errors.Is(err, lpm.ErrNotIPv4):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInsufficientStorage:
		return "table_full"
	default:
		return "policy_error"
	}
}

// respondError writes an error body tagged with the request id.
func respondError(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, &models.ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		Code:      status,
		RequestID: c.GetString(models.RequestIDKey),
	})
}
