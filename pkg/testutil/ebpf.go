// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/ebpf-microsegment/connguard/pkg/lpm"
)

// HasPrefix reports whether the exact prefix is stored in an LPM map.
func HasPrefix(m *ebpf.Map, cidr string) (bool, error) {
	want, err := lpm.ParseCIDR(cidr)
	if err != nil {
		return false, err
	}

	var (
		key   lpm.Key
		value uint8
	)
	iter := m.Iterate()
	for iter.Next(&key, &value) {
		if key == want {
			return true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("failed to iterate prefixes: %w", err)
	}
	return false, nil
}

// CountEntries counts the entries of a map that is not per-CPU.
func CountEntries(m *ebpf.Map) (int, error) {
	count := 0
	key := make([]byte, m.KeySize())
	value := make([]byte, m.ValueSize())
	iter := m.Iterate()
	for iter.Next(key, value) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate %s: %w", m, err)
	}
	return count, nil
}

// GetStatistic sums one slot of a per-CPU u64 array.
func GetStatistic(statsMap *ebpf.Map, slot uint32) (uint64, error) {
	var values []uint64

	if err := statsMap.Lookup(&slot, &values); err != nil {
		return 0, fmt.Errorf("failed to lookup stat %d: %w", slot, err)
	}

	var total uint64
	for _, v := range values {
		total += v
	}
	return total, nil
}
