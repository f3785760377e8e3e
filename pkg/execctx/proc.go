// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package execctx

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// Kind selects which namespace identifies a container.
type Kind int

const (
	// KindPID compares pid namespaces, like the kernel hook does.
	KindPID Kind = iota
	// KindNet compares network namespaces.
	KindNet
)

func (k Kind) String() string {
	switch k {
	case KindPID:
		return "pid"
	case KindNet:
		return "net"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "pid" and "net".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "pid":
		return KindPID, nil
	case "net", "network":
		return KindNet, nil
	default:
		return 0, fmt.Errorf("unknown namespace kind %q", s)
	}
}

const (
	procRoot   = "/proc"
	cgroupRoot = "/sys/fs/cgroup"
)

// Proc reads identity from procfs for a live process.
type Proc struct {
	pid        int32
	kind       Kind
	threadSelf bool
	cgroupRoot string
}

// Option configures a Proc.
type Option func(*Proc)

// WithKind selects the namespace kind; KindPID is the default.
func WithKind(k Kind) Option {
	return func(p *Proc) { p.kind = k }
}

// WithCgroupRoot overrides the cgroup2 mount point.
func WithCgroupRoot(path string) Option {
	return func(p *Proc) { p.cgroupRoot = path }
}

// NewProc returns a Context for pid.
func NewProc(pid int32, opts ...Option) *Proc {
	p := &Proc{pid: pid, kind: KindPID, cgroupRoot: cgroupRoot}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Self returns a Context for the current process. Network namespace
// reads use the calling OS thread, so a goroutine locked into another
// namespace sees that namespace.
func Self(opts ...Option) *Proc {
	p := NewProc(int32(os.Getpid()), opts...)
	p.threadSelf = true
	return p
}

func (p *Proc) PID() uint32 {
	return uint32(p.pid)
}

func (p *Proc) Command() [CommandLen]byte {
	var comm [CommandLen]byte
	proc, err := process.NewProcess(p.pid)
	if err != nil {
		return comm
	}
	name, err := proc.Name()
	if err != nil {
		return comm
	}
	copy(comm[:CommandLen-1], name)
	return comm
}

func (p *Proc) NamespaceID() uint64 {
	if p.kind == KindNet {
		if p.threadSelf {
			return netnsInode(netns.Get())
		}
		return netnsInode(netns.GetFromPid(int(p.pid)))
	}
	return statInode(filepath.Join(procRoot, fmt.Sprint(p.pid), "ns", "pid"))
}

func (p *Proc) HostNamespaceID() uint64 {
	if p.kind == KindNet {
		return netnsInode(netns.GetFromPid(1))
	}
	return HostPIDNamespace
}

func (p *Proc) NodeName() [NodeNameLen]byte {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return [NodeNameLen]byte{}
	}
	var node [NodeNameLen]byte
	copy(node[:], uts.Nodename[:])
	return node
}

// CgroupID returns the inode of the process's cgroup2 directory, which
// is the id the kernel reports for the cgroup.
func (p *Proc) CgroupID() uint64 {
	path, err := cgroupPath(filepath.Join(procRoot, fmt.Sprint(p.pid), "cgroup"))
	if err != nil {
		return 0
	}
	return statInode(filepath.Join(p.cgroupRoot, path))
}

// cgroupPath returns the unified hierarchy path ("0::/...").
func cgroupPath(file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if rest, ok := strings.CutPrefix(sc.Text(), "0::"); ok {
			return rest, nil
		}
	}
	return "", fmt.Errorf("no cgroup2 entry in %s", file)
}

func statInode(path string) uint64 {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0
	}
	return st.Ino
}

func netnsInode(h netns.NsHandle, err error) uint64 {
	if err != nil {
		return 0
	}
	defer h.Close()
	var st unix.Stat_t
	if err := unix.Fstat(int(h), &st); err != nil {
		return 0
	}
	return st.Ino
}
