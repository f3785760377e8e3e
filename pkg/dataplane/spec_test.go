// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"testing"

	"github.com/cilium/ebpf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() *ebpf.CollectionSpec {
	return &ebpf.CollectionSpec{
		Programs: map[string]*ebpf.ProgramSpec{
			ProgramSocketConnect: {Name: ProgramSocketConnect, Type: ebpf.LSM},
		},
		Maps: map[string]*ebpf.MapSpec{
			MapAllowlist: {Type: ebpf.LPMTrie, KeySize: 8, ValueSize: 1, MaxEntries: 256},
			MapDenylist:  {Type: ebpf.LPMTrie, KeySize: 8, ValueSize: 1, MaxEntries: 256},
			MapCommands:  {Type: ebpf.Hash, KeySize: 16, ValueSize: 1, MaxEntries: 256},
			MapConfig:    {Type: ebpf.Hash, KeySize: 4, ValueSize: 8, MaxEntries: 1},
			MapEvents:    {Type: ebpf.RingBuf, MaxEntries: 1 << 24},
		},
	}
}

// TestValidateSpec tests a complete object without the optional stats map
func TestValidateSpec(t *testing.T) {
	require.NoError(t, ValidateSpec(validSpec()))

	spec := validSpec()
	spec.Maps[MapConfig] = &ebpf.MapSpec{Type: ebpf.Array, KeySize: 4, ValueSize: 8, MaxEntries: 1}
	spec.Maps[MapStats] = &ebpf.MapSpec{Type: ebpf.PerCPUArray, KeySize: 4, ValueSize: 8, MaxEntries: 9}
	assert.NoError(t, ValidateSpec(spec))
}

// TestValidateSpecMissing tests absent maps and programs
func TestValidateSpecMissing(t *testing.T) {
	spec := validSpec()
	delete(spec.Maps, MapDenylist)
	delete(spec.Maps, MapEvents)
	err := ValidateSpec(spec)
	require.ErrorIs(t, err, ErrMapMissing)
	assert.Contains(t, err.Error(), MapDenylist)
	assert.Contains(t, err.Error(), MapEvents)

	spec = validSpec()
	delete(spec.Programs, ProgramSocketConnect)
	assert.ErrorIs(t, ValidateSpec(spec), ErrProgramMissing)

	spec = validSpec()
	spec.Programs[ProgramSocketConnect].Type = ebpf.Kprobe
	assert.ErrorIs(t, ValidateSpec(spec), ErrProgramMissing)
}

// TestValidateSpecMismatch tests layout checks
func TestValidateSpecMismatch(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*ebpf.CollectionSpec)
	}{
		{"allowlist as hash", func(s *ebpf.CollectionSpec) { s.Maps[MapAllowlist].Type = ebpf.Hash }},
		{"ipv6 key", func(s *ebpf.CollectionSpec) { s.Maps[MapDenylist].KeySize = 20 }},
		{"u32 command value", func(s *ebpf.CollectionSpec) { s.Maps[MapCommands].ValueSize = 4 }},
		{"short config", func(s *ebpf.CollectionSpec) { s.Maps[MapConfig].ValueSize = 4 }},
		{"perf events", func(s *ebpf.CollectionSpec) { s.Maps[MapEvents].Type = ebpf.PerfEventArray }},
		{"shared stats", func(s *ebpf.CollectionSpec) {
			s.Maps[MapStats] = &ebpf.MapSpec{Type: ebpf.Array, KeySize: 4, ValueSize: 8}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mod(spec)
			assert.ErrorIs(t, ValidateSpec(spec), ErrMapMismatch)
		})
	}
}
