// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// StatisticsProvider reports decision counters. Both the kernel data
// plane and the in-process engine implement it.
type StatisticsProvider interface {
	GetStatistics() engine.Snapshot
}

// DataPlaneInterface defines the operations the agent needs from a
// loaded data plane. It is useful for testing and dependency injection.
type DataPlaneInterface interface {
	StatisticsProvider
	Store() *policy.Store
	Events() audit.Source
	Close() error
}

// Ensure DataPlane implements DataPlaneInterface
var (
	_ DataPlaneInterface = (*DataPlane)(nil)
	_ StatisticsProvider = (*engine.Engine)(nil)
)
