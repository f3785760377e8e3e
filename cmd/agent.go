// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cilium/ebpf/rlimit"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ebpf-microsegment/connguard/pkg/api"
	"github.com/ebpf-microsegment/connguard/pkg/api/handlers"
	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/config"
	"github.com/ebpf-microsegment/connguard/pkg/dataplane"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"github.com/ebpf-microsegment/connguard/pkg/lpm"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// agent owns every long-lived component.
type agent struct {
	cfg     *config.Config
	dp      *dataplane.DataPlane
	storage *policy.SQLiteStorage
	pm      *policy.PolicyManager
	engine  *engine.Engine
	stats   dataplane.StatisticsProvider
	events  audit.Source
	output  io.WriteCloser
}

// newAgent builds the tables, either kernel maps or in-process, and
// loads the configured policy into them.
func newAgent(cfg *config.Config) (*agent, error) {
	a := &agent{cfg: cfg}

	var store *policy.Store
	if cfg.DataPlane.Enabled {
		if err := rlimit.RemoveMemlock(); err != nil {
			return nil, fmt.Errorf("removing memlock limit: %w", err)
		}
		dp, err := dataplane.New(cfg.DataPlane.Object)
		if err != nil {
			return nil, fmt.Errorf("failed to create data plane: %w", err)
		}
		a.dp = dp
		store = dp.Store()
		a.events = dp.Events()
		// The kernel program audits; the engine only answers dry runs.
		a.engine = engine.New(store, nil)
		a.stats = dp
		log.Info("Kernel data plane initialized")
	} else {
		store = policy.NewMemoryStore(lpm.DefaultMaxEntries)
		ring := audit.NewRing(cfg.Audit.Buffer)
		a.events = ring
		a.engine = engine.New(store, audit.NewReporter(ring))
		a.stats = a.engine
		log.Info("In-process data plane initialized")
	}

	if cfg.Storage.Path != "" {
		s, err := policy.NewSQLiteStorage(cfg.Storage.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.storage = s
		a.pm = policy.NewManagerWithStorage(store, s)
	} else {
		a.pm = policy.NewManager(store)
	}

	spec, err := cfg.PolicySpec()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.pm.Apply(spec); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to apply policy: %w", err)
	}
	if a.storage != nil {
		if err := a.pm.LoadPersisted(); err != nil {
			log.Warnf("Failed to restore persisted policy: %v", err)
		}
	}

	switch cfg.Audit.Output {
	case "":
	case "-":
		a.output = nopCloser{os.Stdout}
	default:
		f, err := os.OpenFile(cfg.Audit.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening audit output: %w", err)
		}
		a.output = f
	}

	return a, nil
}

// Run serves until ctx is cancelled.
func (a *agent) Run(ctx context.Context, statsInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	opts := []audit.ConsumerOption{
		audit.WithEnrichment(a.cfg.Audit.Enrich),
	}
	if a.output != nil {
		opts = append(opts, audit.WithOutput(a.output))
	}
	consumer := audit.NewConsumer(a.events, opts...)
	g.Go(func() error { return consumer.Run(ctx) })

	if a.cfg.API.Enabled {
		server, err := api.NewAPIServer(&a.cfg.API, api.Backend{
			Policy:    a.pm,
			Stats:     a.stats,
			Evaluator: a.engine,
			Info:      handlers.StatusInfo{Version: version, Kernel: a.dp != nil},
			NodeName:  nodeName(),
		})
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		if err := server.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return server.Stop()
		})
	}

	if len(a.pm.ListDomains()) > 0 {
		g.Go(func() error { return a.refreshDomains(ctx) })
	}

	if statsInterval > 0 {
		g.Go(func() error { return a.logStatistics(ctx, statsInterval) })
	}

	return g.Wait()
}

// refreshDomains resolves domain entries now and on every tick.
// Resolution failures keep the previous addresses.
func (a *agent) refreshDomains(ctx context.Context) error {
	_ = a.pm.RefreshDomains(ctx)
	if a.cfg.DNS.RefreshInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(a.cfg.DNS.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = a.pm.RefreshDomains(ctx)
		}
	}
}

func (a *agent) logStatistics(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := a.stats.GetStatistics()
			log.WithFields(log.Fields{
				"total":         s.Total,
				"allowed":       s.Allowed,
				"denied":        s.Denied,
				"monitored":     s.Monitored,
				"exempt":        s.Exempt,
				"out_of_scope":  s.OutOfScope,
				"audit_dropped": s.AuditDropped,
			}).Info("Statistics")
		}
	}
}

// Close releases the data plane, storage and audit output.
func (a *agent) Close() error {
	var errs []error
	if a.dp != nil {
		if err := a.dp.Close(); err != nil {
			errs = append(errs, err)
		}
	} else if a.events != nil {
		if err := a.events.Close(); err != nil && !errors.Is(err, audit.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.output != nil {
		if err := a.output.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Errorf("Error during shutdown: %v", err)
		return err
	}
	return nil
}

func nodeName() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return execctx.CString(uts.Nodename[:])
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
