// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package execctx exposes the identity of the process attempting a
// connection: pid, command name, namespace, node name and cgroup.
//
// Every accessor reads live state on each call. A read that fails yields
// the zero value, never an error, so callers on the decision path can
// treat missing identity as absent.
package execctx

import "bytes"

const (
	// CommandLen is the kernel's TASK_COMM_LEN.
	CommandLen = 16

	// NodeNameLen is __NEW_UTS_LEN + 1.
	NodeNameLen = 65

	// HostPIDNamespace is the inode of the initial pid namespace
	// (PROC_PID_INIT_INO).
	HostPIDNamespace uint64 = 0xEFFFFFFC
)

// Context is the capability the decision path reads identity through.
type Context interface {
	PID() uint32
	Command() [CommandLen]byte
	// NamespaceID identifies the namespace the process runs in.
	NamespaceID() uint64
	// HostNamespaceID identifies the host's namespace of the same kind.
	// Zero means unknown.
	HostNamespaceID() uint64
	NodeName() [NodeNameLen]byte
	CgroupID() uint64
}

// Static is a fixed Context, used for hypothetical evaluations and in
// tests.
type Static struct {
	Pid           uint32
	Comm          [CommandLen]byte
	Namespace     uint64
	HostNamespace uint64
	Node          [NodeNameLen]byte
	Cgroup        uint64
}

func (s Static) PID() uint32                 { return s.Pid }
func (s Static) Command() [CommandLen]byte   { return s.Comm }
func (s Static) NamespaceID() uint64         { return s.Namespace }
func (s Static) HostNamespaceID() uint64     { return s.HostNamespace }
func (s Static) NodeName() [NodeNameLen]byte { return s.Node }
func (s Static) CgroupID() uint64            { return s.Cgroup }

// NewStatic builds a Static on the host pid namespace. Names longer than
// the fixed fields are truncated, keeping a trailing NUL.
func NewStatic(pid uint32, comm, node string) Static {
	s := Static{
		Pid:           pid,
		Namespace:     HostPIDNamespace,
		HostNamespace: HostPIDNamespace,
	}
	copy(s.Comm[:CommandLen-1], comm)
	copy(s.Node[:NodeNameLen-1], node)
	return s
}

// InNamespace returns a copy of s running in namespace ns.
func (s Static) InNamespace(ns uint64) Static {
	s.Namespace = ns
	return s
}

// CString converts a NUL-padded array to a string.
func CString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
