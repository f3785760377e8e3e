// Package policy provides the policy store read by the connect hook and
// the control plane that writes it.
//
// It handles:
//   - Allow and deny IPv4 prefix tables (longest-prefix match)
//   - The command exemption table
//   - The single configuration record {mode, target}
//   - Rule, command and config persistence in SQLite
//   - Domain entries resolved to /32 prefixes and refreshed over time
//
// # Store Model
//
// A Store groups four tables. Each has an in-process implementation
// (Memory*) and one over kernel maps (Map*):
//
//   - Allow: PrefixTable, a hit makes the connection allowed
//   - Deny: PrefixTable, a hit blocks even when Allow also matches
//   - Exempt: CommandTable, 16-byte comm names that bypass policy
//   - Config: ConfigSlot, absent means {block, host}
//
// # Example Usage
//
//	store := policy.NewMemoryStore(lpm.DefaultMaxEntries)
//	pm := policy.NewManager(store)
//
//	if err := pm.AddRule(&policy.Rule{CIDR: "10.0.0.0/8", Action: "allow"}); err != nil {
//	    log.Fatal(err)
//	}
//	if err := pm.AddCommand("curl"); err != nil {
//	    log.Fatal(err)
//	}
//	_ = pm.SetConfig(policy.Config{Mode: policy.ModeMonitor, Target: policy.TargetHost})
//
// # Thread Safety
//
// Table reads never lock; memory tables publish copy-on-write
// snapshots. PolicyManager serialises its own writes and is safe for
// concurrent use.
package policy
