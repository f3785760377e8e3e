// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

// Manager interface defines the operations for policy management.
// This interface is useful for testing and dependency injection.
type Manager interface {
	AddRule(r *Rule) error
	DeleteRule(ruleID uint32) error
	GetRule(ruleID uint32) (Rule, error)
	ListRules() ([]Rule, error)

	AddCommand(name string) error
	DeleteCommand(name string) error
	ListCommands() ([]string, error)

	SetConfig(c Config) error
	GetConfig() (Config, bool)
	ClearConfig() error
}

// Ensure PolicyManager implements Manager interface
var _ Manager = (*PolicyManager)(nil)

var (
	_ PrefixTable  = (*MemoryPrefixTable)(nil)
	_ PrefixTable  = (*MapPrefixTable)(nil)
	_ CommandTable = (*MemoryCommandTable)(nil)
	_ CommandTable = (*MapCommandTable)(nil)
	_ ConfigSlot   = (*MemoryConfigSlot)(nil)
	_ ConfigSlot   = (*MapConfigSlot)(nil)
	_ Storage      = (*SQLiteStorage)(nil)
	_ Resolver     = (*DefaultResolver)(nil)
)
