// Package audit emits and consumes records of blocked connection
// attempts.
//
// # Record Layout
//
// A BlockedIPv4 record is 120 bytes, little-endian, matching the kernel
// program's struct audit_event_blocked_ipv4:
//
//	  0  u64      cgroup id
//	  8  u32      pid
//	 12  u32      event type (0 = blocked IPv4)
//	 16  char[65] node name
//	 81  char[16] command
//	 97  pad[7]
//	104  u8[4]    source address
//	108  u8[4]    destination address
//	112  u16      destination port (host order)
//	114  u8       operation (0 = connect)
//	115  u8       flags (bit 0 = allowed by monitor mode)
//	116  pad[4]
//
// # Flow
//
// The Reporter builds a zeroed record on the stack and publishes a copy
// through a Publisher. Ring is the in-process Publisher: a bounded
// channel that drops instead of blocking. A Consumer drains any Source
// (a Ring, or the kernel ring buffer via the dataplane package), decodes
// records and logs them with logrus, optionally writing JSON lines. An
// entry is labelled monitored or blocked from the record's flags.
package audit
