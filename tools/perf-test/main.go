// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// perf-test drives the decision engine with concurrent synthetic connect
// attempts and reports throughput and audit backpressure. With -object
// it instead dials loopback through the attached kernel program and
// reads the kernel counters.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cilium/ebpf/rlimit"
	log "github.com/sirupsen/logrus"

	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/dataplane"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"github.com/ebpf-microsegment/connguard/pkg/lpm"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

var (
	objPath       = flag.String("object", "", "Kernel object to attach; empty runs the in-process engine")
	duration      = flag.Int("duration", 30, "Test duration in seconds")
	statsInterval = flag.Int("interval", 5, "Statistics reporting interval in seconds")
	workers       = flag.Int("workers", 4, "Concurrent decision workers")
	ringSize      = flag.Int("ring", audit.DefaultRingCapacity, "Audit channel capacity")
	monitor       = flag.Bool("monitor", false, "Run in monitor mode")
)

func main() {
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	log.Info("=== Connection Guard Performance Test ===")
	log.Infof("Duration: %d seconds", *duration)
	log.Infof("Stats Interval: %d seconds", *statsInterval)
	log.Infof("Workers: %d", *workers)
	log.Info("=========================================")

	mode := policy.ModeEnforce
	if *monitor {
		mode = policy.ModeMonitor
	}
	spec := policy.Spec{
		Config:     policy.Config{Mode: mode, Target: policy.TargetHost},
		AllowCIDRs: []string{"10.0.0.0/8", "192.168.0.0/16", "127.0.0.0/8"},
		DenyCIDRs:  []string{"10.66.0.0/16", "192.168.1.100/32"},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, time.Duration(*duration)*time.Second)
	defer stop()

	var (
		stats    dataplane.StatisticsProvider
		src      audit.Source
		generate func(ctx context.Context)
	)

	if *objPath != "" {
		if err := rlimit.RemoveMemlock(); err != nil {
			log.Fatalf("Failed to remove memlock limit: %v", err)
		}
		dp, err := dataplane.New(*objPath)
		if err != nil {
			log.Fatalf("Failed to create data plane: %v", err)
		}
		defer dp.Close()
		log.Info("LSM program loaded and attached")

		// Only the probe address is blocked; the rest of the host keeps
		// connecting.
		spec.AllowCIDRs = []string{"0.0.0.0/0"}
		spec.DenyCIDRs = []string{probeAddr + "/32"}
		if err := policy.NewManager(dp.Store()).Apply(spec); err != nil {
			log.Fatalf("Failed to apply policy: %v", err)
		}
		stats, src = dp, dp.Events()
		generate = dialLoopback
	} else {
		store := policy.NewMemoryStore(lpm.DefaultMaxEntries)
		if err := policy.NewManager(store).Apply(spec); err != nil {
			log.Fatalf("Failed to apply policy: %v", err)
		}
		ring := audit.NewRing(*ringSize)
		eng := engine.New(store, audit.NewReporter(ring))
		stats, src = eng, ring
		generate = func(ctx context.Context) { decideLoop(ctx, eng) }
	}
	log.Infof("Applied %d allow and %d deny prefixes", len(spec.AllowCIDRs), len(spec.DenyCIDRs))

	consumer := audit.NewConsumer(src)
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(ctx) }()

	log.Info("=== Baseline Statistics ===")
	baseline := stats.GetStatistics()
	printStats(baseline)

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			generate(ctx)
		}()
	}

	ticker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
	defer ticker.Stop()

	last := baseline
	started := time.Now()
loop:
	for {
		select {
		case <-ticker.C:
			current := stats.GetStatistics()
			delta := calculateDelta(current, last)
			log.Info("=== Delta Statistics (last interval) ===")
			printStats(delta)
			log.Infof("Decision Rate: %.2f/s", float64(delta.Total)/float64(*statsInterval))
			last = current
		case <-ctx.Done():
			break loop
		}
	}

	wg.Wait()
	<-consumerDone
	elapsed := time.Since(started)

	total := calculateDelta(stats.GetStatistics(), baseline)
	log.Info("=== Total Test Statistics ===")
	printStats(total)
	log.Infof("Audit records consumed: %d", consumer.Received())

	if total.Total == 0 {
		log.Warn("No decisions made during test")
		return
	}
	rate := float64(total.Total) / elapsed.Seconds()
	log.Infof("Average Decision Rate: %.2f/s", rate)
	log.Infof("Average Cost: %s per decision", time.Duration(float64(elapsed)/float64(total.Total)*float64(*workers)))
	log.Infof("Overall Deny Rate: %.2f%%", float64(total.Denied)/float64(total.Total)*100)
	if total.AuditDropped > 0 {
		log.Warnf("Audit channel dropped %d records; raise -ring", total.AuditDropped)
	}
}

// decideLoop feeds the engine random destinations until ctx is done.
func decideLoop(ctx context.Context, eng *engine.Engine) {
	proc := execctx.NewStatic(uint32(os.Getpid()), "perf-test", "perf")
	r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	for ctx.Err() == nil {
		for i := 0; i < 1024; i++ {
			var dst [4]byte
			switch r.IntN(4) {
			case 0:
				dst = [4]byte{10, 66, byte(r.IntN(256)), byte(r.IntN(256))}
			case 1:
				dst = [4]byte{10, byte(r.IntN(256)), byte(r.IntN(256)), byte(r.IntN(256))}
			case 2:
				dst = [4]byte{192, 168, byte(r.IntN(256)), byte(r.IntN(256))}
			default:
				dst = [4]byte{byte(r.IntN(224)), byte(r.IntN(256)), byte(r.IntN(256)), 1}
			}
			eng.Decide(proc, engine.Request{Dst: dst, Port: [2]byte{0x01, 0xbb}, Operation: audit.OpConnect})
		}
	}
}

const probeAddr = "127.66.0.1"

// dialLoopback issues real connects to the denied probe address. Each
// one passes through the LSM hook.
func dialLoopback(ctx context.Context) {
	d := net.Dialer{Timeout: 100 * time.Millisecond}
	for ctx.Err() == nil {
		conn, err := d.DialContext(ctx, "tcp4", probeAddr+":9")
		if err == nil {
			conn.Close()
		}
	}
}

func printStats(s engine.Snapshot) {
	log.Infof("  Total:            %d", s.Total)
	log.Infof("  Allowed:          %d", s.Allowed)
	log.Infof("  Denied:           %d", s.Denied)
	log.Infof("  Blocked:          %d", s.Blocked)
	log.Infof("  Monitored:        %d", s.Monitored)
	log.Infof("  Exempt:           %d", s.Exempt)
	log.Infof("  Out of scope:     %d", s.OutOfScope)
	log.Infof("  Audit published:  %d", s.AuditPublished)
	log.Infof("  Audit dropped:    %d", s.AuditDropped)
}

func calculateDelta(current, previous engine.Snapshot) engine.Snapshot {
	return engine.Snapshot{
		Total:          current.Total - previous.Total,
		Allowed:        current.Allowed - previous.Allowed,
		Denied:         current.Denied - previous.Denied,
		Blocked:        current.Blocked - previous.Blocked,
		Monitored:      current.Monitored - previous.Monitored,
		Exempt:         current.Exempt - previous.Exempt,
		OutOfScope:     current.OutOfScope - previous.OutOfScope,
		AuditPublished: current.AuditPublished - previous.AuditPublished,
		AuditDropped:   current.AuditDropped - previous.AuditDropped,
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
}
