// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/ebpf-microsegment/connguard/pkg/lpm"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// ObjectFile is the object go generate writes next to this package
// from bpf/connguard.bpf.c. DefaultObject is its path from the module
// root.
const (
	ObjectFile    = "connguard_bpfel.o"
	DefaultObject = "pkg/dataplane/" + ObjectFile
)

// Object names the loaded collection must provide.
const (
	ProgramSocketConnect = "socket_connect"

	MapAllowlist = "allowlist"
	MapDenylist  = "denylist"
	MapCommands  = "exempt_commands"
	MapConfig    = "config_slot"
	MapEvents    = "audit_events"
	MapStats     = "stats"
)

var (
	ErrMapMissing     = errors.New("map missing from object")
	ErrMapMismatch    = errors.New("map layout mismatch")
	ErrProgramMissing = errors.New("program missing from object")
)

// mapLayout is the shape user space relies on for one map.
type mapLayout struct {
	types     []ebpf.MapType
	keySize   uint32
	valueSize uint32
	optional  bool
}

var expectedMaps = map[string]mapLayout{
	MapAllowlist: {types: []ebpf.MapType{ebpf.LPMTrie}, keySize: lpm.KeySize, valueSize: 1},
	MapDenylist:  {types: []ebpf.MapType{ebpf.LPMTrie}, keySize: lpm.KeySize, valueSize: 1},
	MapCommands:  {types: []ebpf.MapType{ebpf.Hash}, keySize: policy.CommandLen, valueSize: 1},
	MapConfig:    {types: []ebpf.MapType{ebpf.Hash, ebpf.Array}, keySize: 4, valueSize: 8},
	MapEvents:    {types: []ebpf.MapType{ebpf.RingBuf}},
	MapStats:     {types: []ebpf.MapType{ebpf.PerCPUArray}, keySize: 4, valueSize: 8, optional: true},
}

// ValidateSpec checks that spec carries the program and every map with
// the layout the user-space tables encode.
func ValidateSpec(spec *ebpf.CollectionSpec) error {
	prog, ok := spec.Programs[ProgramSocketConnect]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProgramMissing, ProgramSocketConnect)
	}
	if prog.Type != ebpf.LSM {
		return fmt.Errorf("%w: %s has type %s, want LSM", ErrProgramMissing, ProgramSocketConnect, prog.Type)
	}

	var errs []error
	for name, want := range expectedMaps {
		ms, ok := spec.Maps[name]
		if !ok {
			if !want.optional {
				errs = append(errs, fmt.Errorf("%w: %s", ErrMapMissing, name))
			}
			continue
		}
		if err := want.check(name, ms); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l mapLayout) check(name string, ms *ebpf.MapSpec) error {
	typeOK := false
	for _, t := range l.types {
		if ms.Type == t {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return fmt.Errorf("%w: %s has type %s", ErrMapMismatch, name, ms.Type)
	}
	if l.keySize != 0 && ms.KeySize != l.keySize {
		return fmt.Errorf("%w: %s key size %d, want %d", ErrMapMismatch, name, ms.KeySize, l.keySize)
	}
	if l.valueSize != 0 && ms.ValueSize != l.valueSize {
		return fmt.Errorf("%w: %s value size %d, want %d", ErrMapMismatch, name, ms.ValueSize, l.valueSize)
	}
	return nil
}
