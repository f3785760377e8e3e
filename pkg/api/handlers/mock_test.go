// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"

	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// MockPolicyManager is a mock implementation of policy.Manager for testing
type MockPolicyManager struct {
	mock.Mock
}

func (m *MockPolicyManager) AddRule(r *policy.Rule) error {
	args := m.Called(r)
	return args.Error(0)
}

func (m *MockPolicyManager) DeleteRule(ruleID uint32) error {
	args := m.Called(ruleID)
	return args.Error(0)
}

func (m *MockPolicyManager) GetRule(ruleID uint32) (policy.Rule, error) {
	args := m.Called(ruleID)
	return args.Get(0).(policy.Rule), args.Error(1)
}

func (m *MockPolicyManager) ListRules() ([]policy.Rule, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]policy.Rule), args.Error(1)
}

func (m *MockPolicyManager) AddCommand(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockPolicyManager) DeleteCommand(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockPolicyManager) ListCommands() ([]string, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockPolicyManager) SetConfig(c policy.Config) error {
	args := m.Called(c)
	return args.Error(0)
}

func (m *MockPolicyManager) GetConfig() (policy.Config, bool) {
	args := m.Called()
	return args.Get(0).(policy.Config), args.Bool(1)
}

func (m *MockPolicyManager) ClearConfig() error {
	args := m.Called()
	return args.Error(0)
}

var _ policy.Manager = (*MockPolicyManager)(nil)

// MockStats returns fixed counters
type MockStats struct {
	snapshot engine.Snapshot
}

func (m *MockStats) GetStatistics() engine.Snapshot {
	return m.snapshot
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}
