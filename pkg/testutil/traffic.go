// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/vishvananda/netns"
)

// TestServer is an echo TCP server listening inside a namespace.
type TestServer struct {
	Addr      string
	Namespace netns.NsHandle
	listener  net.Listener
	wg        sync.WaitGroup
}

// StartTCPServer listens on addr ("127.0.0.1:0" picks a port) inside
// ns. The listening socket keeps its namespace after the thread leaves.
func StartTCPServer(ns netns.NsHandle, addr string) (*TestServer, error) {
	server := &TestServer{Namespace: ns}

	err := RunInNamespace(ns, func() error {
		var listenErr error
		server.listener, listenErr = net.Listen("tcp4", addr)
		return listenErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	server.Addr = server.listener.Addr().String()

	server.wg.Add(1)
	go func() {
		defer server.wg.Done()
		for {
			conn, err := server.listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()

	return server, nil
}

// Stop closes the listener and waits for the accept loop.
func (ts *TestServer) Stop() {
	if ts.listener != nil {
		_ = ts.listener.Close()
	}
	ts.wg.Wait()
}

// DialInNamespace dials addr with d from a thread inside ns and closes
// the connection on success.
func DialInNamespace(ns netns.NsHandle, d *net.Dialer, network, addr string) error {
	return RunInNamespace(ns, func() error {
		conn, err := d.Dial(network, addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}

// TryConnect reports whether a TCP connection from ns to addr succeeds.
func TryConnect(ns netns.NsHandle, addr string) bool {
	return DialInNamespace(ns, &net.Dialer{Timeout: time.Second}, "tcp4", addr) == nil
}

// WaitForServer waits for a TCP server to accept connections.
func WaitForServer(ns netns.NsHandle, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	attempt := 0

	for time.Now().Before(deadline) {
		if TryConnect(ns, addr) {
			return nil
		}

		attempt++
		wait := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
		if wait > 500*time.Millisecond {
			wait = 500 * time.Millisecond
		}
		time.Sleep(wait)
	}

	return fmt.Errorf("timeout waiting for server at %s", addr)
}

// RunInNamespace executes fn on a locked thread inside ns and restores
// the thread's namespace afterwards.
func RunInNamespace(ns netns.NsHandle, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	originalNS, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to get original namespace: %w", err)
	}
	defer originalNS.Close()

	if err := netns.Set(ns); err != nil {
		return fmt.Errorf("failed to enter namespace: %w", err)
	}

	execErr := fn()

	if err := netns.Set(originalNS); err != nil {
		if execErr != nil {
			return fmt.Errorf("function error: %v, namespace restore error: %w", execErr, err)
		}
		return fmt.Errorf("failed to restore namespace: %w", err)
	}

	return execErr
}
