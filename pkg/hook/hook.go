// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package hook is the connect-time enforcement entry point.
//
// SocketConnect mirrors the LSM socket_connect contract: it takes the
// destination sockaddr and returns 0 to let the connect proceed or
// -EPERM to fail it. Control adapts the same decision to
// net.Dialer.Control, which Go runs synchronously before connect(2).
package hook

import (
	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"golang.org/x/sys/unix"
)

// SockaddrInet4 is the leading part of struct sockaddr_in. Port and Addr
// are in network byte order.
type SockaddrInet4 struct {
	Family uint16
	Port   [2]byte
	Addr   [4]byte
}

// Decider produces a decision for one attempt.
type Decider interface {
	Decide(ctx execctx.Context, req engine.Request) engine.Decision
}

// Hook binds a Decider to the connect entry points.
type Hook struct {
	decider Decider
	context func() execctx.Context
}

// Option configures a Hook.
type Option func(*Hook)

// WithContext sets how Control obtains the calling process identity.
// The default reads the current process from procfs.
func WithContext(fn func() execctx.Context) Option {
	return func(h *Hook) { h.context = fn }
}

func New(d Decider, opts ...Option) *Hook {
	h := &Hook{
		decider: d,
		context: func() execctx.Context { return execctx.Self() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SocketConnect returns 0 to allow and -EPERM to block. Families other
// than AF_INET pass through without inspection.
func (h *Hook) SocketConnect(ctx execctx.Context, sa SockaddrInet4, src [4]byte) int {
	if sa.Family != unix.AF_INET {
		return 0
	}
	d := h.decider.Decide(ctx, engine.Request{
		Dst:       sa.Addr,
		Port:      sa.Port,
		Src:       src,
		Operation: audit.OpConnect,
	})
	if d.Returned == engine.Block {
		return -int(unix.EPERM)
	}
	return 0
}
