// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ebpf-microsegment/connguard/pkg/lpm"
)

// MemoryPrefixTable is a PrefixTable over an in-process lpm.Trie.
type MemoryPrefixTable struct {
	trie *lpm.Trie
}

func NewMemoryPrefixTable(maxEntries int) *MemoryPrefixTable {
	return &MemoryPrefixTable{trie: lpm.NewTrie(maxEntries)}
}

func (t *MemoryPrefixTable) Match(addr [4]byte) bool {
	_, ok := t.trie.Lookup(addr)
	return ok
}

func (t *MemoryPrefixTable) Insert(k lpm.Key) error {
	return t.trie.Insert(k)
}

func (t *MemoryPrefixTable) Delete(k lpm.Key) error {
	return t.trie.Delete(k)
}

func (t *MemoryPrefixTable) Keys() ([]lpm.Key, error) {
	return t.trie.Keys(), nil
}

// MemoryCommandTable is a copy-on-write set of commands. Contains never
// takes a lock.
type MemoryCommandTable struct {
	mu  sync.Mutex
	set atomic.Pointer[map[Command]struct{}]
	max int
}

func NewMemoryCommandTable(maxEntries int) *MemoryCommandTable {
	if maxEntries <= 0 {
		maxEntries = lpm.DefaultMaxEntries
	}
	t := &MemoryCommandTable{max: maxEntries}
	empty := map[Command]struct{}{}
	t.set.Store(&empty)
	return t
}

func (t *MemoryCommandTable) Contains(c Command) bool {
	_, ok := (*t.set.Load())[c]
	return ok
}

func (t *MemoryCommandTable) Insert(c Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.set.Load()
	if _, ok := cur[c]; ok {
		return nil
	}
	if len(cur) >= t.max {
		return fmt.Errorf("%w: %d entries", lpm.ErrTableFull, t.max)
	}
	next := make(map[Command]struct{}, len(cur)+1)
	for k := range cur {
		next[k] = struct{}{}
	}
	next[c] = struct{}{}
	t.set.Store(&next)
	return nil
}

func (t *MemoryCommandTable) Delete(c Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.set.Load()
	if _, ok := cur[c]; !ok {
		return fmt.Errorf("%w: %s", lpm.ErrNotFound, c)
	}
	next := make(map[Command]struct{}, len(cur))
	for k := range cur {
		if k != c {
			next[k] = struct{}{}
		}
	}
	t.set.Store(&next)
	return nil
}

func (t *MemoryCommandTable) List() ([]Command, error) {
	cur := *t.set.Load()
	out := make([]Command, 0, len(cur))
	for k := range cur {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out, nil
}

// MemoryConfigSlot keeps the record behind an atomic pointer; nil means
// absent.
type MemoryConfigSlot struct {
	cfg atomic.Pointer[Config]
}

func NewMemoryConfigSlot() *MemoryConfigSlot {
	return &MemoryConfigSlot{}
}

func (s *MemoryConfigSlot) Load() (Config, bool) {
	p := s.cfg.Load()
	if p == nil {
		return Config{}, false
	}
	return *p, true
}

func (s *MemoryConfigSlot) Store(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.cfg.Store(&c)
	return nil
}

func (s *MemoryConfigSlot) Clear() error {
	s.cfg.Store(nil)
	return nil
}
