// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// TestApplies tests scope decisions per target
func TestApplies(t *testing.T) {
	host := execctx.NewStatic(1, "sshd", "node")
	container := host.InNamespace(4026532100)
	unknown := host.InNamespace(0)

	hostCfg := policy.Config{Mode: policy.ModeEnforce, Target: policy.TargetHost}
	containerCfg := policy.Config{Mode: policy.ModeEnforce, Target: policy.TargetContainer}

	tests := []struct {
		name    string
		cfg     policy.Config
		present bool
		ctx     execctx.Context
		want    bool
	}{
		{"absent record host process", policy.Config{}, false, host, true},
		{"absent record ignores stale target", containerCfg, false, host, true},
		{"host target host process", hostCfg, true, host, true},
		{"host target container process", hostCfg, true, container, true},
		{"container target host process", containerCfg, true, host, false},
		{"container target container process", containerCfg, true, container, true},
		{"container target unreadable namespace", containerCfg, true, unknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Applies(tt.cfg, tt.present, tt.ctx))
		})
	}
}

// TestIsContainerUnknownHost tests the fallback to the initial pid
// namespace inode
func TestIsContainerUnknownHost(t *testing.T) {
	s := execctx.Static{Namespace: execctx.HostPIDNamespace}
	assert.False(t, IsContainer(s))

	s.Namespace = 4026532200
	assert.True(t, IsContainer(s))

	s.HostNamespace = 4026532200
	assert.False(t, IsContainer(s))
}
