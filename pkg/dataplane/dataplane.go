// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	log "github.com/sirupsen/logrus"

	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

//go:generate sh -c "bpftool btf dump file /sys/kernel/btf/vmlinux format c > bpf/vmlinux.h"
//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cc clang -cflags "-O2 -g -Wall" -target bpfel connguard bpf/connguard.bpf.c -- -I./bpf

// Per-CPU counter slots of the stats map. The order matches enum
// stat_slot in bpf/connguard.h.
const (
	StatTotal uint32 = iota
	StatAllowed
	StatDenied
	StatBlocked
	StatMonitored
	StatExempt
	StatOutOfScope
	StatAuditPublished
	StatAuditDropped
)

// DataPlane manages the kernel side of enforcement
type DataPlane struct {
	coll   *ebpf.Collection
	lsm    link.Link
	events *eventSource
	store  *policy.Store
}

// New loads the object at objPath, validates its maps and attaches the
// socket_connect LSM program.
func New(objPath string) (*DataPlane, error) {
	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, fmt.Errorf("loading object %s: %w", objPath, err)
	}
	if err := ValidateSpec(spec); err != nil {
		return nil, fmt.Errorf("validating object %s: %w", objPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		var verr *ebpf.VerifierError
		if errors.As(err, &verr) {
			log.Debugf("Verifier log: %+v", verr)
		}
		return nil, fmt.Errorf("loading eBPF objects: %w", err)
	}
	log.Debugf("eBPF objects loaded successfully")

	lsm, err := link.AttachLSM(link.LSMOptions{Program: coll.Programs[ProgramSocketConnect]})
	if err != nil {
		coll.Close()
		return nil, fmt.Errorf("attaching LSM program: %w", err)
	}
	log.Infof("LSM program %s attached", ProgramSocketConnect)

	rb, err := ringbuf.NewReader(coll.Maps[MapEvents])
	if err != nil {
		lsm.Close()
		coll.Close()
		return nil, fmt.Errorf("opening ring buffer reader: %w", err)
	}

	return &DataPlane{
		coll:   coll,
		lsm:    lsm,
		events: &eventSource{rb: rb},
		store: policy.NewMapStore(
			coll.Maps[MapAllowlist],
			coll.Maps[MapDenylist],
			coll.Maps[MapCommands],
			coll.Maps[MapConfig],
		),
	}, nil
}

// Store returns the policy tables backed by the kernel maps.
func (dp *DataPlane) Store() *policy.Store {
	return dp.store
}

// Map returns the named map of the loaded collection, or nil.
func (dp *DataPlane) Map(name string) *ebpf.Map {
	return dp.coll.Maps[name]
}

// Events returns the audit channel fed by the kernel program.
func (dp *DataPlane) Events() audit.Source {
	return dp.events
}

// Close detaches the program and frees the maps
func (dp *DataPlane) Close() error {
	var errs []error

	if dp.events != nil {
		if err := dp.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing ring buffer reader: %w", err))
		}
	}
	if dp.lsm != nil {
		if err := dp.lsm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("detaching LSM program: %w", err))
		}
	}
	if dp.coll != nil {
		dp.coll.Close()
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	log.Info("Data plane closed successfully")
	return nil
}

// GetStatistics sums the per-CPU decision counters. A missing stats map
// yields zeroes.
func (dp *DataPlane) GetStatistics() engine.Snapshot {
	m := dp.coll.Maps[MapStats]
	if m == nil {
		return engine.Snapshot{}
	}

	readStat := func(key uint32) uint64 {
		var values []uint64
		if err := m.Lookup(&key, &values); err != nil {
			log.Debugf("Failed to lookup stat key %d: %v", key, err)
			return 0
		}

		var total uint64
		for _, v := range values {
			total += v
		}
		return total
	}

	return engine.Snapshot{
		Total:          readStat(StatTotal),
		Allowed:        readStat(StatAllowed),
		Denied:         readStat(StatDenied),
		Blocked:        readStat(StatBlocked),
		Monitored:      readStat(StatMonitored),
		Exempt:         readStat(StatExempt),
		OutOfScope:     readStat(StatOutOfScope),
		AuditPublished: readStat(StatAuditPublished),
		AuditDropped:   readStat(StatAuditDropped),
	}
}

// eventSource adapts a ring buffer reader to audit.Source.
type eventSource struct {
	rb        *ringbuf.Reader
	closeOnce sync.Once
	closeErr  error
}

func (s *eventSource) Read() ([]byte, error) {
	record, err := s.rb.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			return nil, audit.ErrClosed
		}
		return nil, fmt.Errorf("reading from ring buffer: %w", err)
	}
	return record.RawSample, nil
}

func (s *eventSource) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.rb.Close() })
	return s.closeErr
}
