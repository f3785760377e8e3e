// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

func setupCommandRouter(pm policy.Manager) *gin.Engine {
	router := newTestRouter()
	handler := NewCommandHandler(pm)
	router.POST("/api/v1/commands", handler.AddCommand)
	router.GET("/api/v1/commands", handler.ListCommands)
	router.DELETE("/api/v1/commands/:name", handler.DeleteCommand)
	return router
}

// TestAddCommand tests exempting a command
func TestAddCommand(t *testing.T) {
	mockPM := new(MockPolicyManager)
	router := setupCommandRouter(mockPM)

	mockPM.On("AddCommand", "my-long-agent-binary").Return(nil)
	mockPM.On("AddCommand", "bad\x00name").Return(fmt.Errorf("%w: contains NUL", policy.ErrInvalidCommand))

	w := performRequest(router, http.MethodPost, "/api/v1/commands", models.CommandRequest{Name: "my-long-agent-binary"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"name":"my-long-agent-b"}`, w.Body.String())

	w = performRequest(router, http.MethodPost, "/api/v1/commands", models.CommandRequest{Name: "bad\x00name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodPost, "/api/v1/commands", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	mockPM.AssertExpectations(t)
}

// TestListAndDeleteCommands tests the list and delete routes
func TestListAndDeleteCommands(t *testing.T) {
	mockPM := new(MockPolicyManager)
	router := setupCommandRouter(mockPM)

	mockPM.On("ListCommands").Return([]string{"apt", "curl"}, nil)
	mockPM.On("DeleteCommand", "curl").Return(nil)

	w := performRequest(router, http.MethodGet, "/api/v1/commands", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list models.CommandListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, []string{"apt", "curl"}, list.Commands)
	assert.Equal(t, 2, list.Count)

	w = performRequest(router, http.MethodDelete, "/api/v1/commands/curl", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
