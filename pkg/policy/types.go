// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// CommandLen is the kernel's TASK_COMM_LEN.
const CommandLen = 16

var (
	ErrInvalidCommand = errors.New("invalid command name")
	ErrUnknownMode    = errors.New("unknown mode")
	ErrUnknownTarget  = errors.New("unknown target")
)

// Command is a NUL-padded process command name, as reported in comm.
type Command [CommandLen]byte

// ParseCommand truncates name to CommandLen-1 bytes, the way the kernel
// stores comm, so that an exemption matches what the process reports.
func ParseCommand(name string) (Command, error) {
	var c Command
	if name == "" {
		return c, fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return c, fmt.Errorf("%w: contains NUL", ErrInvalidCommand)
	}
	copy(c[:CommandLen-1], name)
	return c, nil
}

func (c Command) String() string {
	if i := bytes.IndexByte(c[:], 0); i >= 0 {
		return string(c[:i])
	}
	return string(c[:])
}

// Mode selects whether blocking verdicts are enforced.
type Mode uint32

const (
	ModeMonitor Mode = 0
	ModeEnforce Mode = 1
)

// ParseMode accepts "monitor" and "block" (or "enforce").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monitor":
		return ModeMonitor, nil
	case "block", "enforce":
		return ModeEnforce, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeMonitor:
		return "monitor"
	case ModeEnforce:
		return "block"
	default:
		return fmt.Sprintf("mode(%d)", uint32(m))
	}
}

// Target selects which processes enforcement applies to.
type Target uint32

const (
	TargetHost      Target = 0
	TargetContainer Target = 1
)

// ParseTarget accepts "host" and "container".
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host":
		return TargetHost, nil
	case "container":
		return TargetContainer, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTarget, s)
	}
}

func (t Target) String() string {
	switch t {
	case TargetHost:
		return "host"
	case TargetContainer:
		return "container"
	default:
		return fmt.Sprintf("target(%d)", uint32(t))
	}
}

// Config is the single configuration record, stored at index 0. The
// field order matches the kernel map value: u32 mode, u32 target.
type Config struct {
	Mode   Mode
	Target Target
}

// DefaultConfig is what the hook assumes when no record is stored.
func DefaultConfig() Config {
	return Config{Mode: ModeEnforce, Target: TargetHost}
}

// Validate rejects values the hook does not understand.
func (c Config) Validate() error {
	if c.Mode != ModeMonitor && c.Mode != ModeEnforce {
		return fmt.Errorf("%w: %d", ErrUnknownMode, uint32(c.Mode))
	}
	if c.Target != TargetHost && c.Target != TargetContainer {
		return fmt.Errorf("%w: %d", ErrUnknownTarget, uint32(c.Target))
	}
	return nil
}
