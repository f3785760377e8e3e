// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"github.com/ebpf-microsegment/connguard/pkg/lpm"
)

// configIndex is the fixed key of the configuration record.
const configIndex uint32 = 0

// MapPrefixTable is a PrefixTable over a BPF_MAP_TYPE_LPM_TRIE map with
// lpm.Key keys and u8 values.
type MapPrefixTable struct {
	m *ebpf.Map
}

func NewMapPrefixTable(m *ebpf.Map) *MapPrefixTable {
	return &MapPrefixTable{m: m}
}

func (t *MapPrefixTable) Match(addr [4]byte) bool {
	var v uint8
	return t.m.Lookup(lpm.HostKey(addr), &v) == nil
}

func (t *MapPrefixTable) Insert(k lpm.Key) error {
	if k.PrefixLen > lpm.MaxPrefixLen {
		return fmt.Errorf("%w: /%d", lpm.ErrInvalidPrefix, k.PrefixLen)
	}
	k, _ = lpm.NewKey(int(k.PrefixLen), k.Addr)
	if err := t.m.Update(k, uint8(0), ebpf.UpdateAny); err != nil {
		return fmt.Errorf("failed to insert %s: %w", k, mapError(err))
	}
	return nil
}

func (t *MapPrefixTable) Delete(k lpm.Key) error {
	if err := t.m.Delete(k); err != nil {
		return fmt.Errorf("failed to delete %s: %w", k, mapError(err))
	}
	return nil
}

func (t *MapPrefixTable) Keys() ([]lpm.Key, error) {
	var (
		key   lpm.Key
		value uint8
		keys  []lpm.Key
	)
	iter := t.m.Iterate()
	for iter.Next(&key, &value) {
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prefixes: %w", err)
	}
	return keys, nil
}

// MapCommandTable is a CommandTable over a hash map keyed by the 16-byte
// command name with u8 values.
type MapCommandTable struct {
	m *ebpf.Map
}

func NewMapCommandTable(m *ebpf.Map) *MapCommandTable {
	return &MapCommandTable{m: m}
}

func (t *MapCommandTable) Contains(c Command) bool {
	var v uint8
	return t.m.Lookup(c, &v) == nil
}

func (t *MapCommandTable) Insert(c Command) error {
	if err := t.m.Update(c, uint8(0), ebpf.UpdateAny); err != nil {
		return fmt.Errorf("failed to insert command %s: %w", c, mapError(err))
	}
	return nil
}

func (t *MapCommandTable) Delete(c Command) error {
	if err := t.m.Delete(c); err != nil {
		return fmt.Errorf("failed to delete command %s: %w", c, mapError(err))
	}
	return nil
}

func (t *MapCommandTable) List() ([]Command, error) {
	var (
		key   Command
		value uint8
		out   []Command
	)
	iter := t.m.Iterate()
	for iter.Next(&key, &value) {
		out = append(out, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commands: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out, nil
}

// MapConfigSlot stores the record at key 0 of a hash or array map.
type MapConfigSlot struct {
	m *ebpf.Map
}

func NewMapConfigSlot(m *ebpf.Map) *MapConfigSlot {
	return &MapConfigSlot{m: m}
}

func (s *MapConfigSlot) Load() (Config, bool) {
	var c Config
	if err := s.m.Lookup(configIndex, &c); err != nil {
		return Config{}, false
	}
	return c, true
}

func (s *MapConfigSlot) Store(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.m.Update(configIndex, c, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("failed to store config: %w", err)
	}
	return nil
}

// Clear removes the record. On array maps, where entries cannot be
// deleted, the default record is written instead.
func (s *MapConfigSlot) Clear() error {
	if s.m.Type() == ebpf.Array {
		return s.Store(DefaultConfig())
	}
	err := s.m.Delete(configIndex)
	if err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("failed to clear config: %w", err)
	}
	return nil
}

// NewMapStore wires kernel maps into a Store.
func NewMapStore(allow, deny, commands, config *ebpf.Map) *Store {
	return &Store{
		Allow:  NewMapPrefixTable(allow),
		Deny:   NewMapPrefixTable(deny),
		Exempt: NewMapCommandTable(commands),
		Config: NewMapConfigSlot(config),
	}
}

// mapError translates kernel map errors into the package sentinels.
func mapError(err error) error {
	switch {
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return fmt.Errorf("%w: %v", lpm.ErrNotFound, err)
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.E2BIG):
		return fmt.Errorf("%w: %v", lpm.ErrTableFull, err)
	default:
		return err
	}
}
