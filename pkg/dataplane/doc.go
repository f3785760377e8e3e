// Package dataplane loads and attaches the kernel half of the connection
// guard.
//
// The kernel program lives in bpf/connguard.bpf.c and go generate
// compiles it into connguard_bpfel.o. Any object loaded must provide an
// LSM program named socket_connect and the maps it reads:
//   - allowlist, denylist: LPM_TRIE, 8-byte key {prefixlen, addr}, u8 value
//   - exempt_commands: HASH keyed by the 16-byte task comm
//   - config_slot: HASH or ARRAY, key 0 holds {mode, target}
//   - audit_events: RINGBUF of 120-byte blocked-connection records
//   - stats: optional PERCPU_ARRAY of u64 decision counters
//
// ValidateSpec checks these layouts before anything is loaded, so a
// stale object fails with ErrMapMissing or ErrMapMismatch instead of
// silently misreading keys.
//
// # Example Usage
//
//	dp, err := dataplane.New(dataplane.DefaultObject)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dp.Close()
//
//	pm := policy.NewManager(dp.Store())
//	consumer := audit.NewConsumer(dp.Events())
//	go consumer.Run(ctx)
//
// # Thread Safety
//
// The DataPlane type is safe for concurrent use. Map operations and
// statistics queries can be called from multiple goroutines.
package dataplane
