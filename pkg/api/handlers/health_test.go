// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// TestGetHealth tests the liveness endpoint
func TestGetHealth(t *testing.T) {
	router := newTestRouter()
	handler := NewHealthHandler(&MockStats{}, nil, StatusInfo{})
	router.GET("/api/v1/health", handler.GetHealth)

	w := performRequest(router, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

// TestGetStatus tests the detailed status endpoint
func TestGetStatus(t *testing.T) {
	mockPM := new(MockPolicyManager)
	mockPM.On("GetConfig").Return(policy.Config{Mode: policy.ModeMonitor, Target: policy.TargetContainer}, true)
	mockPM.On("ListRules").Return([]policy.Rule{{RuleID: 1}}, nil)
	mockPM.On("ListCommands").Return([]string{"apt", "curl"}, nil)

	stats := &MockStats{snapshot: engine.Snapshot{Total: 10, Allowed: 6, Denied: 4, Blocked: 4}}
	router := newTestRouter()
	handler := NewHealthHandler(stats, mockPM, StatusInfo{Version: "1.2.3", Kernel: true})
	router.GET("/api/v1/status", handler.GetStatus)

	w := performRequest(router, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "1.2.3", response.Version)
	assert.Equal(t, "monitor", response.Mode)
	assert.Equal(t, "container", response.Target)
	assert.True(t, response.ConfigStored)
	assert.Equal(t, "kernel", response.DataPlane.Kind)
	assert.Equal(t, "running", response.DataPlane.Status)
	assert.Equal(t, 1, response.RuleCount)
	assert.Equal(t, 2, response.CommandCount)
	require.NotNil(t, response.Statistics)
	assert.InDelta(t, 40.0, response.Statistics.DenyRate, 0.001)
}

// TestGetStatus_Degraded tests a failing policy backend
func TestGetStatus_Degraded(t *testing.T) {
	mockPM := new(MockPolicyManager)
	mockPM.On("GetConfig").Return(policy.Config{}, false)
	mockPM.On("ListRules").Return(nil, errors.New("storage offline"))
	mockPM.On("ListCommands").Return([]string{}, nil)

	router := newTestRouter()
	handler := NewHealthHandler(&MockStats{}, mockPM, StatusInfo{})
	router.GET("/api/v1/status", handler.GetStatus)

	w := performRequest(router, http.MethodGet, "/api/v1/status", nil)
	var response models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "degraded", response.Status)
	assert.Equal(t, "idle", response.DataPlane.Status)
	assert.Equal(t, "in-process", response.DataPlane.Kind)
	assert.Equal(t, "block", response.Mode)
	assert.False(t, response.ConfigStored)
}
