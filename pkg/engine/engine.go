// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package engine makes the allow/block decision for a connection
// attempt.
//
// Precedence, first match wins:
//
//  1. exempt command: allow, no audit
//  2. out of scope: allow, no audit
//  3. deny table hit: block
//  4. allow table hit: allow
//  5. otherwise: block
//
// Every block is audited. In monitor mode a block is audited and then
// returned as allow.
package engine

import (
	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
	"github.com/ebpf-microsegment/connguard/pkg/scope"
)

// Verdict is the outcome of a decision.
type Verdict int

const (
	Allow Verdict = iota
	Block
)

func (v Verdict) String() string {
	if v == Allow {
		return "allow"
	}
	return "block"
}

// Reason names the rule that produced the computed verdict.
type Reason string

const (
	ReasonExempt      Reason = "exempt"
	ReasonOutOfScope  Reason = "out-of-scope"
	ReasonAllowListed Reason = "allow-listed"
	ReasonDenyListed  Reason = "deny-listed"
	ReasonDefaultDeny Reason = "default-deny"
)

// PolicyView is the read side of the policy store.
type PolicyView interface {
	Allowed(addr [4]byte) bool
	Denied(addr [4]byte) bool
	Exempted(c policy.Command) bool
	LoadConfig() (policy.Config, bool)
}

// Request describes one IPv4 connection attempt.
type Request struct {
	Dst       [4]byte
	Port      [2]byte // network byte order
	Src       [4]byte
	Operation audit.Operation
}

// Decision is the full result of Decide.
type Decision struct {
	// Computed is what policy says.
	Computed Verdict
	// Returned is what the hook returns; it differs from Computed only
	// in monitor mode.
	Returned Verdict
	Reason   Reason
	// Monitored is set when monitor mode turned a block into an allow.
	Monitored bool
	// Audited is set when a record was built; Published when it was
	// accepted by the channel.
	Audited   bool
	Published bool
}

// Engine evaluates requests against a PolicyView. It holds no locks and
// is safe for concurrent use.
type Engine struct {
	policy   PolicyView
	reporter *audit.Reporter
	stats    Statistics
}

// New creates an engine. reporter may be nil, in which case blocks are
// counted but not reported.
func New(view PolicyView, reporter *audit.Reporter) *Engine {
	return &Engine{policy: view, reporter: reporter}
}

// Decide evaluates req for the process described by ctx, reports a
// block and updates the counters.
func (e *Engine) Decide(ctx execctx.Context, req Request) Decision {
	d := e.Evaluate(ctx, req)

	e.stats.total.Add(1)
	switch d.Reason {
	case ReasonExempt:
		e.stats.exempt.Add(1)
	case ReasonOutOfScope:
		e.stats.outOfScope.Add(1)
	}

	if d.Computed == Block {
		e.stats.blocked.Add(1)
		if e.reporter != nil {
			d.Audited = true
			d.Published = e.reporter.BlockedIPv4(ctx, req.Operation, req.Src, req.Dst, req.Port, d.Monitored)
			if d.Published {
				e.stats.auditPublished.Add(1)
			} else {
				e.stats.auditDropped.Add(1)
			}
		}
	}
	if d.Monitored {
		e.stats.monitored.Add(1)
	}
	if d.Returned == Allow {
		e.stats.allowed.Add(1)
	} else {
		e.stats.denied.Add(1)
	}
	return d
}

// Evaluate computes the decision without side effects: nothing is
// reported and no counter moves.
func (e *Engine) Evaluate(ctx execctx.Context, req Request) Decision {
	if e.policy.Exempted(ctx.Command()) {
		return Decision{Computed: Allow, Returned: Allow, Reason: ReasonExempt}
	}

	cfg, present := e.policy.LoadConfig()
	if !scope.Applies(cfg, present, ctx) {
		return Decision{Computed: Allow, Returned: Allow, Reason: ReasonOutOfScope}
	}
	if !present {
		cfg = policy.DefaultConfig()
	}

	d := Decision{Computed: Block, Reason: ReasonDefaultDeny}
	if e.policy.Allowed(req.Dst) {
		d.Computed, d.Reason = Allow, ReasonAllowListed
	}
	if e.policy.Denied(req.Dst) {
		d.Computed, d.Reason = Block, ReasonDenyListed
	}

	d.Returned = d.Computed
	if cfg.Mode == policy.ModeMonitor && d.Computed == Block {
		d.Returned = Allow
		d.Monitored = true
	}
	return d
}

// GetStatistics returns a snapshot of the decision counters.
func (e *Engine) GetStatistics() Snapshot {
	return e.stats.snapshot()
}
