// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package audit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/ebpf-microsegment/connguard/pkg/execctx"
)

// EventType tags the record layout.
type EventType uint32

const (
	EventBlockedIPv4 EventType = 0
)

func (t EventType) String() string {
	if t == EventBlockedIPv4 {
		return "blocked-ipv4"
	}
	return fmt.Sprintf("event(%d)", uint32(t))
}

// Operation is the socket operation that was intercepted.
type Operation uint8

const (
	OpConnect Operation = 0
)

func (o Operation) String() string {
	if o == OpConnect {
		return "connect"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

const (
	// HeaderSize is sizeof(struct audit_event_header), padded to 8.
	HeaderSize = 104
	// EventSize is sizeof(struct audit_event_blocked_ipv4), padded to 8.
	EventSize = 120
)

var ErrShortRecord = errors.New("short audit record")

// Header is the common prefix of every audit record.
type Header struct {
	CgroupID uint64
	PID      uint32
	Type     EventType
	NodeName [execctx.NodeNameLen]byte
	Command  [execctx.CommandLen]byte
}

// FlagMonitored marks a record whose attempt was allowed by monitor mode.
const FlagMonitored uint8 = 1 << 0

// BlockedIPv4 reports a connect that policy blocked (or would block in
// monitor mode). DPort is in host byte order; addresses are in network
// byte order. Flags carries the verdict the hook returned.
type BlockedIPv4 struct {
	Header
	Src       [4]byte
	Dst       [4]byte
	DPort     uint16
	Operation Operation
	Flags     uint8
}

// Monitored reports whether the attempt was let through by monitor mode.
func (e *BlockedIPv4) Monitored() bool {
	return e.Flags&FlagMonitored != 0
}

// Record is an encoded event. It is a value type so it can be built on
// the stack and copied into a channel.
type Record [EventSize]byte

// Encode writes e into r. Every byte of r is written, padding included.
func (e *BlockedIPv4) Encode(r *Record) {
	*r = Record{}
	binary.LittleEndian.PutUint64(r[0:8], e.CgroupID)
	binary.LittleEndian.PutUint32(r[8:12], e.PID)
	binary.LittleEndian.PutUint32(r[12:16], uint32(e.Type))
	copy(r[16:81], e.NodeName[:])
	copy(r[81:97], e.Command[:])
	copy(r[104:108], e.Src[:])
	copy(r[108:112], e.Dst[:])
	binary.LittleEndian.PutUint16(r[112:114], e.DPort)
	r[114] = byte(e.Operation)
	r[115] = e.Flags
}

// Decode parses a record produced by Encode or by the kernel program.
func Decode(raw []byte) (BlockedIPv4, error) {
	var e BlockedIPv4
	if len(raw) < HeaderSize {
		return e, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(raw))
	}
	e.CgroupID = binary.LittleEndian.Uint64(raw[0:8])
	e.PID = binary.LittleEndian.Uint32(raw[8:12])
	e.Type = EventType(binary.LittleEndian.Uint32(raw[12:16]))
	if e.Type != EventBlockedIPv4 {
		return e, fmt.Errorf("unsupported audit event type %d", uint32(e.Type))
	}
	if len(raw) < EventSize-5 {
		return e, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(raw))
	}
	copy(e.NodeName[:], raw[16:81])
	copy(e.Command[:], raw[81:97])
	copy(e.Src[:], raw[104:108])
	copy(e.Dst[:], raw[108:112])
	e.DPort = binary.LittleEndian.Uint16(raw[112:114])
	e.Operation = Operation(raw[114])
	if len(raw) > 115 {
		e.Flags = raw[115]
	}
	return e, nil
}

func (e *BlockedIPv4) SrcAddr() netip.Addr { return netip.AddrFrom4(e.Src) }
func (e *BlockedIPv4) DstAddr() netip.Addr { return netip.AddrFrom4(e.Dst) }
