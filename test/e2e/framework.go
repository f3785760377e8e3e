// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package e2e provides the end-to-end test framework for the connection
// guard. A fresh network namespace stands in for a container; the
// process dials through the guarded dialer from inside and outside it.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ebpf-microsegment/connguard/pkg/api"
	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"github.com/ebpf-microsegment/connguard/pkg/hook"
	"github.com/ebpf-microsegment/connguard/pkg/lpm"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
	"github.com/ebpf-microsegment/connguard/pkg/testutil"
)

// E2ETestEnv is an in-process guard with an isolated namespace, a
// consumer collecting audit entries and an API server.
type E2ETestEnv struct {
	T             *testing.T
	Container     *testutil.Namespace
	Store         *policy.Store
	PolicyManager *policy.PolicyManager
	Storage       *policy.SQLiteStorage
	StoragePath   string
	Engine        *engine.Engine
	Dialer        *net.Dialer
	HTTPClient    *http.Client
	APIBaseURL    string

	mu           sync.Mutex
	entries      []audit.Entry
	cleanupFuncs []func()
}

// NewE2ETestEnv creates the environment. Container detection compares
// network namespaces, so dials made inside Container are in scope for
// target container.
func NewE2ETestEnv(t *testing.T) (*E2ETestEnv, error) {
	env := &E2ETestEnv{
		T:          t,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}

	if msg := testutil.CheckE2ERequirements(); msg != "" {
		return nil, fmt.Errorf("E2E requirements not met: %s", msg)
	}

	ns, err := testutil.NewNamespace()
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}
	env.Container = ns
	env.addCleanup(ns.Close)

	env.StoragePath = filepath.Join(t.TempDir(), "e2e.db")
	storage, err := policy.NewSQLiteStorage(env.StoragePath)
	if err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	env.Storage = storage
	env.addCleanup(func() { storage.Close() })

	env.Store = policy.NewMemoryStore(lpm.DefaultMaxEntries)
	env.PolicyManager = policy.NewManagerWithStorage(env.Store, storage)

	ring := audit.NewRing(64)
	env.Engine = engine.New(env.Store, audit.NewReporter(ring))
	h := hook.New(env.Engine, hook.WithContext(func() execctx.Context {
		return execctx.Self(execctx.WithKind(execctx.KindNet))
	}))
	env.Dialer = h.Dialer(net.Dialer{Timeout: 2 * time.Second})

	consumer := audit.NewConsumer(ring,
		audit.WithHandler(func(e audit.Entry) {
			env.mu.Lock()
			env.entries = append(env.entries, e)
			env.mu.Unlock()
		}),
	)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(t.Context()) }()
	env.addCleanup(func() {
		ring.Close()
		<-done
	})

	cfg := api.DefaultConfig()
	cfg.Port = 0
	server, err := api.NewAPIServer(cfg, api.Backend{
		Policy:    env.PolicyManager,
		Stats:     env.Engine,
		Evaluator: env.Engine,
		NodeName:  "e2e",
	})
	if err != nil {
		env.Cleanup()
		return nil, err
	}
	if err := server.Start(); err != nil {
		env.Cleanup()
		return nil, err
	}
	env.APIBaseURL = "http://" + server.Addr().String()
	env.addCleanup(func() { server.Stop() })

	return env, nil
}

// addCleanup adds a cleanup function to be called on test teardown.
func (env *E2ETestEnv) addCleanup(fn func()) {
	env.cleanupFuncs = append(env.cleanupFuncs, fn)
}

// Cleanup releases all resources created by the test environment.
func (env *E2ETestEnv) Cleanup() {
	for i := len(env.cleanupFuncs) - 1; i >= 0; i-- {
		env.cleanupFuncs[i]()
	}
}

// Configure stores the config record.
func (env *E2ETestEnv) Configure(mode policy.Mode, target policy.Target) {
	require.NoError(env.T, env.PolicyManager.SetConfig(policy.Config{Mode: mode, Target: target}))
}

// StartHostServer starts an echo server in the test's own namespace.
func (env *E2ETestEnv) StartHostServer() *testutil.TestServer {
	server, err := testutil.StartTCPServer(env.Container.OriginalNS, "127.0.0.1:0")
	require.NoError(env.T, err)
	env.T.Cleanup(server.Stop)
	return server
}

// StartContainerServer starts an echo server inside the container
// namespace.
func (env *E2ETestEnv) StartContainerServer() *testutil.TestServer {
	server, err := testutil.StartTCPServer(env.Container.NS, "127.0.0.1:0")
	require.NoError(env.T, err)
	env.T.Cleanup(server.Stop)
	return server
}

// DialFromHost dials addr through the guard outside the container.
func (env *E2ETestEnv) DialFromHost(addr string) error {
	return testutil.DialInNamespace(env.Container.OriginalNS, env.Dialer, "tcp4", addr)
}

// DialFromContainer dials addr through the guard inside the container.
func (env *E2ETestEnv) DialFromContainer(addr string) error {
	return testutil.DialInNamespace(env.Container.NS, env.Dialer, "tcp4", addr)
}

// WaitForEntries waits until the consumer has rendered n entries.
func (env *E2ETestEnv) WaitForEntries(n int, timeout time.Duration) []audit.Entry {
	deadline := time.Now().Add(timeout)
	for {
		env.mu.Lock()
		got := append([]audit.Entry(nil), env.entries...)
		env.mu.Unlock()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// DoHTTPRequest performs an HTTP request against the API server.
func (env *E2ETestEnv) DoHTTPRequest(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, env.APIBaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return env.HTTPClient.Do(req)
}

// MustRequest performs a request and requires the given status.
func (env *E2ETestEnv) MustRequest(method, path string, body interface{}, status int) []byte {
	resp, err := env.DoHTTPRequest(method, path, body)
	require.NoError(env.T, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(env.T, err)
	require.Equal(env.T, status, resp.StatusCode, string(data))
	return data
}
