// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package audit

import (
	"encoding/binary"

	"github.com/ebpf-microsegment/connguard/pkg/execctx"
)

// Reporter builds blocked-connection records and hands them to a
// Publisher.
type Reporter struct {
	pub Publisher
}

func NewReporter(pub Publisher) *Reporter {
	return &Reporter{pub: pub}
}

// BlockedIPv4 records a blocked attempt. Identity is read from ctx at
// call time; port is the destination port in network byte order as it
// appears in sockaddr_in. monitored marks an attempt that was let through
// by monitor mode. It reports whether the record was accepted.
func (r *Reporter) BlockedIPv4(ctx execctx.Context, op Operation, src, dst [4]byte, port [2]byte, monitored bool) bool {
	var ev BlockedIPv4
	ev.NodeName = ctx.NodeName()
	ev.CgroupID = ctx.CgroupID()
	ev.PID = ctx.PID()
	ev.Type = EventBlockedIPv4
	ev.Command = ctx.Command()
	ev.DPort = binary.BigEndian.Uint16(port[:])
	ev.Src = src
	ev.Dst = dst
	ev.Operation = op
	if monitored {
		ev.Flags = FlagMonitored
	}

	var rec Record
	ev.Encode(&rec)
	return r.pub.Publish(rec)
}
