// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"github.com/ebpf-microsegment/connguard/pkg/hook"
	"github.com/ebpf-microsegment/connguard/pkg/lpm"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

var checkCmd = &cobra.Command{
	Use:   "check ADDR:PORT",
	Short: "Evaluate one connection attempt against the config",
	Long: `check loads the config into in-process tables and reports what the
hook would return for a process connecting to ADDR:PORT. Domain entries
are resolved first. Nothing is audited. With --self the identity is the
check process itself, so running it inside a container or network
namespace shows how the scope filter sees that namespace.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("command", "", "Command name of the connecting process")
	checkCmd.Flags().Uint32("pid", 0, "PID reported for the process")
	checkCmd.Flags().Bool("container", false, "Treat the process as running in a container")
	checkCmd.Flags().Bool("self", false, "Use this process's live identity and namespace instead of --command, --pid and --container")
	checkCmd.Flags().Duration("resolve-timeout", 5*time.Second, "Timeout for resolving domain entries")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ap, err := netip.ParseAddrPort(args[0])
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[0], err)
	}
	if !ap.Addr().Is4() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: not IPv4, the hook returns 0 without inspection\n", ap)
		return nil
	}

	store := policy.NewMemoryStore(lpm.DefaultMaxEntries)
	pm := policy.NewManager(store)
	spec, err := cfg.PolicySpec()
	if err != nil {
		return err
	}
	if err := pm.Apply(spec); err != nil {
		return err
	}
	if len(pm.ListDomains()) > 0 {
		timeout, _ := cmd.Flags().GetDuration("resolve-timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		_ = pm.RefreshDomains(ctx)
		cancel()
	}

	command, _ := cmd.Flags().GetString("command")
	pid, _ := cmd.Flags().GetUint32("pid")
	container, _ := cmd.Flags().GetBool("container")

	self, _ := cmd.Flags().GetBool("self")

	var proc execctx.Context
	if self {
		proc = execctx.Self(execctx.WithKind(cfg.NamespaceKind()))
	} else {
		static := execctx.NewStatic(pid, command, nodeName())
		if container {
			static = static.InNamespace(^execctx.HostPIDNamespace)
		}
		proc = static
	}

	eng := engine.New(store, nil)
	port := ap.Port()
	sa := hook.SockaddrInet4{
		Family: unix.AF_INET,
		Port:   [2]byte{byte(port >> 8), byte(port)},
		Addr:   ap.Addr().As4(),
	}
	d := eng.Evaluate(proc, engine.Request{Dst: sa.Addr, Port: sa.Port})
	ret := hook.New(evaluator{eng}).SocketConnect(proc, sa, [4]byte{})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "destination: %s\n", ap)
	fmt.Fprintf(out, "mode:        %s\n", spec.Config.Mode)
	fmt.Fprintf(out, "target:      %s\n", spec.Config.Target)
	fmt.Fprintf(out, "verdict:     %s (%s)\n", d.Computed, d.Reason)
	if d.Monitored {
		fmt.Fprintln(out, "monitored:   yes, the connection would proceed and be audited")
	}
	fmt.Fprintf(out, "hook return: %d\n", ret)
	return nil
}

// evaluator runs the side-effect-free path behind the hook.
type evaluator struct{ e *engine.Engine }

func (v evaluator) Decide(ctx execctx.Context, req engine.Request) engine.Decision {
	return v.e.Evaluate(ctx, req)
}
