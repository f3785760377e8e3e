// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import "github.com/ebpf-microsegment/connguard/pkg/lpm"

// PrefixTable is an IPv4 longest-prefix-match table holding presence
// markers.
type PrefixTable interface {
	// Match reports whether any stored prefix contains addr. Lookup
	// failures count as a miss.
	Match(addr [4]byte) bool
	Insert(k lpm.Key) error
	Delete(k lpm.Key) error
	Keys() ([]lpm.Key, error)
}

// CommandTable holds exempted command names.
type CommandTable interface {
	Contains(c Command) bool
	Insert(c Command) error
	Delete(c Command) error
	List() ([]Command, error)
}

// ConfigSlot holds the optional configuration record.
type ConfigSlot interface {
	// Load returns the stored record and whether one is present.
	Load() (Config, bool)
	Store(c Config) error
	Clear() error
}

// Store groups the tables the decision hook reads.
type Store struct {
	Allow  PrefixTable
	Deny   PrefixTable
	Exempt CommandTable
	Config ConfigSlot
}

// NewMemoryStore creates a store backed by in-process tables of the
// given capacity.
func NewMemoryStore(maxEntries int) *Store {
	return &Store{
		Allow:  NewMemoryPrefixTable(maxEntries),
		Deny:   NewMemoryPrefixTable(maxEntries),
		Exempt: NewMemoryCommandTable(maxEntries),
		Config: NewMemoryConfigSlot(),
	}
}

// Allowed reports an allow table hit for addr.
func (s *Store) Allowed(addr [4]byte) bool {
	return s.Allow.Match(addr)
}

// Denied reports a deny table hit for addr.
func (s *Store) Denied(addr [4]byte) bool {
	return s.Deny.Match(addr)
}

// Exempted reports whether c is in the exemption table.
func (s *Store) Exempted(c Command) bool {
	return s.Exempt.Contains(c)
}

// LoadConfig returns the configuration record, if any.
func (s *Store) LoadConfig() (Config, bool) {
	return s.Config.Load()
}
