// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package engine

import "sync/atomic"

// Statistics holds decision counters.
type Statistics struct {
	total          atomic.Uint64
	allowed        atomic.Uint64
	denied         atomic.Uint64
	blocked        atomic.Uint64
	monitored      atomic.Uint64
	exempt         atomic.Uint64
	outOfScope     atomic.Uint64
	auditPublished atomic.Uint64
	auditDropped   atomic.Uint64
}

// Snapshot is a point-in-time copy of Statistics. Blocked counts
// computed blocks; Denied counts attempts that actually failed.
type Snapshot struct {
	Total          uint64
	Allowed        uint64
	Denied         uint64
	Blocked        uint64
	Monitored      uint64
	Exempt         uint64
	OutOfScope     uint64
	AuditPublished uint64
	AuditDropped   uint64
}

func (s *Statistics) snapshot() Snapshot {
	return Snapshot{
		Total:          s.total.Load(),
		Allowed:        s.allowed.Load(),
		Denied:         s.denied.Load(),
		Blocked:        s.blocked.Load(),
		Monitored:      s.monitored.Load(),
		Exempt:         s.exempt.Load(),
		OutOfScope:     s.outOfScope.Load(),
		AuditPublished: s.auditPublished.Load(),
		AuditDropped:   s.auditDropped.Load(),
	}
}
