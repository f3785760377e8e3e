// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package scope decides whether enforcement applies to a connection
// attempt at all.
package scope

import (
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// Applies reports whether policy should be evaluated for ctx. With no
// record, or with target host, every process is in scope. With target
// container only containerised processes are.
func Applies(cfg policy.Config, present bool, ctx execctx.Context) bool {
	if !present || cfg.Target != policy.TargetContainer {
		return true
	}
	return IsContainer(ctx)
}

// IsContainer reports whether ctx runs outside the host namespace. An
// unreadable namespace (zero) compares unequal and counts as contained.
func IsContainer(ctx execctx.Context) bool {
	host := ctx.HostNamespaceID()
	if host == 0 {
		host = execctx.HostPIDNamespace
	}
	return ctx.NamespaceID() != host
}
