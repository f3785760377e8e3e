// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package hook

import (
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

// Control implements net.Dialer.Control. It runs after the socket is
// created and before connect(2); a blocked attempt fails with EPERM.
func (h *Hook) Control(network, address string, c syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		// Unix sockets and unresolved names are outside this hook.
		return nil
	}
	if !ap.Addr().Is4() {
		return nil
	}

	sa := SockaddrInet4{Family: unix.AF_INET, Addr: ap.Addr().As4()}
	port := ap.Port()
	sa.Port = [2]byte{byte(port >> 8), byte(port)}

	if ret := h.SocketConnect(h.context(), sa, localAddr(c)); ret != 0 {
		return syscall.Errno(-ret)
	}
	return nil
}

// Dialer returns a copy of base that consults the hook before every
// connect. An existing Control function on base still runs first.
func (h *Hook) Dialer(base net.Dialer) *net.Dialer {
	prev := base.Control
	base.Control = func(network, address string, c syscall.RawConn) error {
		if prev != nil {
			if err := prev(network, address, c); err != nil {
				return err
			}
		}
		return h.Control(network, address, c)
	}
	return &base
}

// localAddr returns the socket's bound IPv4 address, or zero when it is
// unbound or unreadable.
func localAddr(c syscall.RawConn) [4]byte {
	var src [4]byte
	if c == nil {
		return src
	}
	_ = c.Control(func(fd uintptr) {
		sa, err := unix.Getsockname(int(fd))
		if err != nil {
			return
		}
		if in4, ok := sa.(*unix.SockaddrInet4); ok {
			src = in4.Addr
		}
	})
	return src
}
