// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package lpm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type node struct {
	child [2]*node
	key   Key
	set   bool
}

type snapshot struct {
	root *node
	size int
}

// Trie is a bounded IPv4 longest-prefix-match table.
//
// Readers load an immutable snapshot and never block. Writers copy the
// path they touch and publish a new snapshot, so a concurrent Lookup sees
// a mutation entirely or not at all.
type Trie struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	max  int
}

// NewTrie creates a trie holding at most maxEntries prefixes. A
// non-positive value selects DefaultMaxEntries.
func NewTrie(maxEntries int) *Trie {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	t := &Trie{max: maxEntries}
	t.snap.Store(&snapshot{})
	return t
}

// Lookup returns the most specific stored prefix containing addr. The
// walk visits at most MaxPrefixLen+1 nodes.
func (t *Trie) Lookup(addr [4]byte) (Key, bool) {
	var (
		best  Key
		found bool
	)
	n := t.snap.Load().root
	for depth := uint32(0); n != nil; depth++ {
		if n.set {
			best, found = n.key, true
		}
		if depth == MaxPrefixLen {
			break
		}
		n = n.child[bit(addr, depth)]
	}
	return best, found
}

// Has reports whether exactly k is stored.
func (t *Trie) Has(k Key) bool {
	if k.PrefixLen > MaxPrefixLen {
		return false
	}
	k.Addr = mask(k.Addr, k.PrefixLen)
	n := t.snap.Load().root
	for depth := uint32(0); n != nil; depth++ {
		if depth == k.PrefixLen {
			return n.set
		}
		n = n.child[bit(k.Addr, depth)]
	}
	return false
}

// Insert stores k. Re-inserting an existing prefix is a no-op.
func (t *Trie) Insert(k Key) error {
	if k.PrefixLen > MaxPrefixLen {
		return fmt.Errorf("%w: /%d", ErrInvalidPrefix, k.PrefixLen)
	}
	k.Addr = mask(k.Addr, k.PrefixLen)

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snap.Load()
	if s.size >= t.max && !t.Has(k) {
		return fmt.Errorf("%w: %d entries", ErrTableFull, t.max)
	}

	root, added := insert(s.root, k, 0)
	size := s.size
	if added {
		size++
	}
	t.snap.Store(&snapshot{root: root, size: size})
	return nil
}

// Delete removes exactly k.
func (t *Trie) Delete(k Key) error {
	if k.PrefixLen > MaxPrefixLen {
		return fmt.Errorf("%w: /%d", ErrInvalidPrefix, k.PrefixLen)
	}
	k.Addr = mask(k.Addr, k.PrefixLen)

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snap.Load()
	root, removed := remove(s.root, k, 0)
	if !removed {
		return fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	t.snap.Store(&snapshot{root: root, size: s.size - 1})
	return nil
}

// Keys returns every stored prefix, ordered by address bits then length.
func (t *Trie) Keys() []Key {
	s := t.snap.Load()
	keys := make([]Key, 0, s.size)
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		if n.set {
			keys = append(keys, n.key)
		}
		walk(n.child[0])
		walk(n.child[1])
	}
	walk(s.root)
	return keys
}

// Len returns the number of stored prefixes.
func (t *Trie) Len() int {
	return t.snap.Load().size
}

// Cap returns the configured capacity.
func (t *Trie) Cap() int {
	return t.max
}

func bit(addr [4]byte, i uint32) int {
	return int(addr[i/8]>>(7-i%8)) & 1
}

func insert(n *node, k Key, depth uint32) (*node, bool) {
	c := &node{}
	if n != nil {
		*c = *n
	}
	if depth == k.PrefixLen {
		added := !c.set
		c.key, c.set = k, true
		return c, added
	}
	b := bit(k.Addr, depth)
	var added bool
	c.child[b], added = insert(c.child[b], k, depth+1)
	return c, added
}

func remove(n *node, k Key, depth uint32) (*node, bool) {
	if n == nil {
		return nil, false
	}
	if depth == k.PrefixLen {
		if !n.set {
			return n, false
		}
		if n.child[0] == nil && n.child[1] == nil {
			return nil, true
		}
		c := *n
		c.key, c.set = Key{}, false
		return &c, true
	}

	b := bit(k.Addr, depth)
	child, removed := remove(n.child[b], k, depth+1)
	if !removed {
		return n, false
	}
	c := *n
	c.child[b] = child
	if !c.set && c.child[0] == nil && c.child[1] == nil {
		return nil, true
	}
	return &c, true
}
