// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package lpm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

const (
	// MaxPrefixLen is the length of an IPv4 host prefix.
	MaxPrefixLen = 32

	// KeySize is the encoded size of a Key: u32 prefixlen followed by
	// the four address bytes.
	KeySize = 8

	// DefaultMaxEntries matches max_entries of the kernel trie maps.
	DefaultMaxEntries = 256
)

var (
	ErrInvalidPrefix = errors.New("invalid prefix")
	ErrNotIPv4       = errors.New("not an IPv4 address")
	ErrTableFull     = errors.New("table full")
	ErrNotFound      = errors.New("entry not found")
)

// Key is an LPM trie key. Addr holds the address in network byte order,
// the layout struct bpf_lpm_trie_key expects.
type Key struct {
	PrefixLen uint32
	Addr      [4]byte
}

// NewKey builds a key and clears the host bits beyond prefixLen.
func NewKey(prefixLen int, addr [4]byte) (Key, error) {
	if prefixLen < 0 || prefixLen > MaxPrefixLen {
		return Key{}, fmt.Errorf("%w: /%d", ErrInvalidPrefix, prefixLen)
	}
	return Key{PrefixLen: uint32(prefixLen), Addr: mask(addr, uint32(prefixLen))}, nil
}

// HostKey returns the /32 key used to query a single destination.
func HostKey(addr [4]byte) Key {
	return Key{PrefixLen: MaxPrefixLen, Addr: addr}
}

// FromPrefix converts a netip prefix into a key.
func FromPrefix(p netip.Prefix) (Key, error) {
	if !p.IsValid() {
		return Key{}, fmt.Errorf("%w: %s", ErrInvalidPrefix, p)
	}
	if !p.Addr().Is4() {
		return Key{}, fmt.Errorf("%w: %s", ErrNotIPv4, p)
	}
	return NewKey(p.Bits(), p.Addr().As4())
}

// ParseCIDR accepts "a.b.c.d/n" or a bare address, which becomes a /32.
func ParseCIDR(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
		}
		if !addr.Is4() {
			return Key{}, fmt.Errorf("%w: %s", ErrNotIPv4, s)
		}
		return HostKey(addr.As4()), nil
	}

	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}
	return FromPrefix(p)
}

// Prefix returns the key as a netip prefix.
func (k Key) Prefix() netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4(k.Addr), int(k.PrefixLen))
}

func (k Key) String() string {
	return k.Prefix().String()
}

// Contains reports whether addr falls inside the key's prefix.
func (k Key) Contains(addr [4]byte) bool {
	if k.PrefixLen > MaxPrefixLen {
		return false
	}
	return mask(addr, k.PrefixLen) == mask(k.Addr, k.PrefixLen)
}

// MarshalBinary encodes the key the way the kernel trie map reads it.
func (k Key) MarshalBinary() ([]byte, error) {
	buf := make([]byte, KeySize)
	binary.LittleEndian.PutUint32(buf[0:4], k.PrefixLen)
	copy(buf[4:8], k.Addr[:])
	return buf, nil
}

// UnmarshalBinary decodes a key produced by MarshalBinary or read back
// from a kernel map.
func (k *Key) UnmarshalBinary(data []byte) error {
	if len(data) < KeySize {
		return fmt.Errorf("%w: key needs %d bytes, got %d", ErrInvalidPrefix, KeySize, len(data))
	}
	prefixLen := binary.LittleEndian.Uint32(data[0:4])
	if prefixLen > MaxPrefixLen {
		return fmt.Errorf("%w: /%d", ErrInvalidPrefix, prefixLen)
	}
	k.PrefixLen = prefixLen
	copy(k.Addr[:], data[4:8])
	return nil
}

func mask(addr [4]byte, prefixLen uint32) [4]byte {
	v := binary.BigEndian.Uint32(addr[:])
	if prefixLen == 0 {
		v = 0
	} else if prefixLen < MaxPrefixLen {
		v &= ^uint32(0) << (MaxPrefixLen - prefixLen)
	}
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], v)
	return out
}
