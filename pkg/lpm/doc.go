// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package lpm implements IPv4 longest-prefix-match keys and tables.
//
// # Key layout
//
// Key mirrors the kernel's struct bpf_lpm_trie_key for IPv4:
//
//	offset 0: u32 prefixlen (little-endian)
//	offset 4: u8  addr[4]   (network byte order)
//
// The same encoding is used for the in-memory Trie and for
// BPF_MAP_TYPE_LPM_TRIE maps, so a key built here can be written to
// either.
//
// # Trie
//
// Trie is a binary trie with one level per address bit. Lookups walk at
// most 33 nodes and return the most specific stored prefix. Mutations
// copy the touched path and publish a new root atomically, which keeps
// readers lock-free:
//
//	t := lpm.NewTrie(lpm.DefaultMaxEntries)
//	k, _ := lpm.ParseCIDR("10.0.0.0/8")
//	_ = t.Insert(k)
//	match, ok := t.Lookup([4]byte{10, 1, 2, 3}) // 10.0.0.0/8, true
package lpm
