// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package testutil provides helpers for end-to-end tests of the
// connection guard: isolated network namespaces that stand in for
// containers, servers inside them, and kernel map inspection.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// Namespace is an isolated network namespace with loopback up. Dialing
// from inside it looks like a containerised process to a net-kind
// execution context.
type Namespace struct {
	NS         netns.NsHandle
	OriginalNS netns.NsHandle
}

// NewNamespace creates the namespace and returns the calling thread to
// its original namespace.
func NewNamespace() (*Namespace, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	originalNS, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get original namespace: %w", err)
	}
	n := &Namespace{NS: netns.None(), OriginalNS: originalNS}

	ns, err := netns.New()
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}
	n.NS = ns

	// netns.New leaves the thread inside the new namespace.
	lo, err := netlink.LinkByName("lo")
	if err == nil {
		err = netlink.LinkSetUp(lo)
	}
	if setErr := netns.Set(originalNS); setErr != nil {
		n.Close()
		return nil, fmt.Errorf("failed to return to original namespace: %w", setErr)
	}
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to bring up loopback: %w", err)
	}

	return n, nil
}

// Run executes fn on a thread inside the namespace.
func (n *Namespace) Run(fn func() error) error {
	return RunInNamespace(n.NS, fn)
}

// AddAddress assigns cidr to the namespace's loopback, making it
// reachable only from inside.
func (n *Namespace) AddAddress(cidr string) error {
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("failed to parse IP %s: %w", cidr, err)
	}
	return n.Run(func() error {
		lo, err := netlink.LinkByName("lo")
		if err != nil {
			return fmt.Errorf("failed to get loopback: %w", err)
		}
		if err := netlink.AddrAdd(lo, addr); err != nil {
			return fmt.Errorf("failed to add IP address: %w", err)
		}
		return nil
	})
}

// Close releases the namespace handles.
func (n *Namespace) Close() {
	if n.NS.IsOpen() {
		_ = n.NS.Close()
	}
	if n.OriginalNS.IsOpen() {
		_ = n.OriginalNS.Close()
	}
}

// IsRoot checks if the current process has root privileges.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// HasCapability checks if the process has a specific capability.
func HasCapability(cap int) bool {
	var header unix.CapUserHeader
	var data [2]unix.CapUserData

	header.Version = unix.LINUX_CAPABILITY_VERSION_3
	header.Pid = 0 // Current process

	if err := unix.Capget(&header, &data[0]); err != nil {
		return false
	}

	capMask := uint32(1 << uint(cap%32))
	return (data[cap/32].Effective & capMask) != 0
}

// CheckE2ERequirements checks if the environment supports namespace
// tests. Returns a skip reason, or an empty string when they can run.
func CheckE2ERequirements() string {
	if !IsRoot() && !HasCapability(unix.CAP_SYS_ADMIN) {
		return "E2E tests require root privileges or CAP_SYS_ADMIN to create namespaces"
	}

	n, err := NewNamespace()
	if err != nil {
		return fmt.Sprintf("Network namespaces not supported: %v", err)
	}
	n.Close()

	return ""
}

// CheckKernelRequirements additionally requires BPF privileges and an
// object file. CONNGUARD_BPF_OBJECT names it; otherwise the go generate
// output in pkg/dataplane is used.
func CheckKernelRequirements() (string, string) {
	if reason := CheckE2ERequirements(); reason != "" {
		return "", reason
	}
	if !IsRoot() && !HasCapability(unix.CAP_BPF) {
		return "", "kernel tests require CAP_BPF"
	}
	obj := os.Getenv("CONNGUARD_BPF_OBJECT")
	if obj == "" {
		obj = GeneratedObject()
	}
	if _, err := os.Stat(obj); err != nil {
		return "", fmt.Sprintf("BPF object unavailable: %v", err)
	}
	return obj, ""
}

// GeneratedObject is the path of the object go generate writes in
// pkg/dataplane, resolved from this source file.
func GeneratedObject() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return filepath.Join(filepath.Dir(file), "..", "dataplane", "connguard_bpfel.o")
}
