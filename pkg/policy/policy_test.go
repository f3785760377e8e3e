// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ebpf-microsegment/connguard/pkg/lpm"
)

// MockStorage is a mock implementation of Storage for testing
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveRule(r *Rule) error          { return m.Called(r).Error(0) }
func (m *MockStorage) DeleteRule(ruleID uint32) error  { return m.Called(ruleID).Error(0) }
func (m *MockStorage) SaveCommand(name string) error   { return m.Called(name).Error(0) }
func (m *MockStorage) DeleteCommand(name string) error { return m.Called(name).Error(0) }
func (m *MockStorage) SaveConfig(c Config) error       { return m.Called(c).Error(0) }
func (m *MockStorage) ClearConfig() error              { return m.Called().Error(0) }
func (m *MockStorage) Close() error                    { return m.Called().Error(0) }

func (m *MockStorage) LoadRules() ([]Rule, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Rule), args.Error(1)
}

func (m *MockStorage) LoadCommands() ([]string, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) LoadConfig() (Config, bool, error) {
	args := m.Called()
	return args.Get(0).(Config), args.Bool(1), args.Error(2)
}

func newTestManager() (*PolicyManager, *Store) {
	store := NewMemoryStore(lpm.DefaultMaxEntries)
	return NewManager(store), store
}

// TestAddRule tests adding allow and deny rules
func TestAddRule(t *testing.T) {
	pm, store := newTestManager()

	allow := &Rule{CIDR: "10.0.0.0/8", Action: "allow"}
	require.NoError(t, pm.AddRule(allow))
	assert.Equal(t, uint32(1), allow.RuleID)

	deny := &Rule{RuleID: 7, CIDR: "10.1.2.3", Action: "Deny"}
	require.NoError(t, pm.AddRule(deny))
	assert.Equal(t, "10.1.2.3/32", deny.CIDR)
	assert.Equal(t, ActionDeny, deny.Action)

	assert.True(t, store.Allowed([4]byte{10, 9, 9, 9}))
	assert.True(t, store.Denied([4]byte{10, 1, 2, 3}))
	assert.False(t, store.Denied([4]byte{10, 1, 2, 4}))

	rules, err := pm.ListRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, uint32(1), rules[0].RuleID)
	assert.Equal(t, uint32(7), rules[1].RuleID)
}

// TestAddRuleValidation tests rejected rules
func TestAddRuleValidation(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"bad action", Rule{CIDR: "10.0.0.0/8", Action: "log"}},
		{"bad cidr", Rule{CIDR: "10.0.0.0/40", Action: "allow"}},
		{"ipv6", Rule{CIDR: "2001:db8::/32", Action: "deny"}},
		{"empty", Rule{Action: "allow"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, _ := newTestManager()
			r := tt.rule
			assert.ErrorIs(t, pm.AddRule(&r), ErrInvalidRule)
		})
	}
}

// TestAddRuleDuplicate tests duplicate ids and duplicate prefixes
func TestAddRuleDuplicate(t *testing.T) {
	pm, _ := newTestManager()
	require.NoError(t, pm.AddRule(&Rule{RuleID: 1, CIDR: "10.0.0.0/8", Action: "allow"}))

	assert.ErrorIs(t, pm.AddRule(&Rule{RuleID: 1, CIDR: "11.0.0.0/8", Action: "allow"}), ErrRuleExists)
	assert.ErrorIs(t, pm.AddRule(&Rule{RuleID: 2, CIDR: "10.5.0.0/8", Action: "allow"}), ErrRuleExists)

	// The same prefix may appear in the other table.
	assert.NoError(t, pm.AddRule(&Rule{RuleID: 3, CIDR: "10.0.0.0/8", Action: "deny"}))
}

// TestDeleteRule tests rule removal
func TestDeleteRule(t *testing.T) {
	pm, store := newTestManager()
	r := &Rule{CIDR: "192.168.0.0/16", Action: "deny"}
	require.NoError(t, pm.AddRule(r))

	require.NoError(t, pm.DeleteRule(r.RuleID))
	assert.False(t, store.Denied([4]byte{192, 168, 1, 1}))

	assert.ErrorIs(t, pm.DeleteRule(r.RuleID), ErrRuleNotFound)
	_, err := pm.GetRule(r.RuleID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

// TestRulePersistence tests that changes reach storage
func TestRulePersistence(t *testing.T) {
	storage := new(MockStorage)
	store := NewMemoryStore(0)
	pm := NewManagerWithStorage(store, storage)

	storage.On("SaveRule", mock.MatchedBy(func(r *Rule) bool { return r.CIDR == "10.0.0.0/8" })).Return(nil)
	storage.On("DeleteRule", uint32(1)).Return(nil)

	require.NoError(t, pm.AddRule(&Rule{CIDR: "10.0.0.0/8", Action: "allow"}))
	require.NoError(t, pm.DeleteRule(1))

	storage.AssertExpectations(t)
}

// TestRulePersistenceFailureKeepsTable tests that a storage error does
// not undo the table change
func TestRulePersistenceFailureKeepsTable(t *testing.T) {
	storage := new(MockStorage)
	store := NewMemoryStore(0)
	pm := NewManagerWithStorage(store, storage)

	storage.On("SaveRule", mock.Anything).Return(errors.New("disk full"))

	require.NoError(t, pm.AddRule(&Rule{CIDR: "10.0.0.0/8", Action: "allow"}))
	assert.True(t, store.Allowed([4]byte{10, 0, 0, 1}))
}

// TestLoadPersisted tests restoring state from storage
func TestLoadPersisted(t *testing.T) {
	storage := new(MockStorage)
	store := NewMemoryStore(0)
	pm := NewManagerWithStorage(store, storage)

	storage.On("LoadConfig").Return(Config{Mode: ModeMonitor, Target: TargetContainer}, true, nil)
	storage.On("LoadRules").Return([]Rule{
		{RuleID: 4, CIDR: "10.0.0.0/8", Action: "allow"},
		{RuleID: 5, CIDR: "garbage", Action: "deny"},
	}, nil)
	storage.On("LoadCommands").Return([]string{"curl"}, nil)

	require.NoError(t, pm.LoadPersisted())

	cfg, ok := pm.GetConfig()
	require.True(t, ok)
	assert.Equal(t, ModeMonitor, cfg.Mode)
	assert.Equal(t, TargetContainer, cfg.Target)

	rules, _ := pm.ListRules()
	require.Len(t, rules, 1)
	assert.Equal(t, uint32(4), rules[0].RuleID)

	c, _ := ParseCommand("curl")
	assert.True(t, store.Exempted(c))
}

// TestLoadPersistedWithoutStorage tests the no-storage error
func TestLoadPersistedWithoutStorage(t *testing.T) {
	pm, _ := newTestManager()
	assert.Error(t, pm.LoadPersisted())
}

// TestCommands tests command exemptions
func TestCommands(t *testing.T) {
	pm, store := newTestManager()

	require.NoError(t, pm.AddCommand("curl"))
	require.NoError(t, pm.AddCommand("a-very-long-command-name"))

	names, err := pm.ListCommands()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-very-long-com", "curl"}, names)

	c, _ := ParseCommand("a-very-long-command-name")
	assert.True(t, store.Exempted(c))

	require.NoError(t, pm.DeleteCommand("curl"))
	assert.ErrorIs(t, pm.DeleteCommand("curl"), lpm.ErrNotFound)
	assert.ErrorIs(t, pm.AddCommand(""), ErrInvalidCommand)
}

// TestConfigRecord tests set, get and clear of the record
func TestConfigRecord(t *testing.T) {
	pm, _ := newTestManager()

	_, ok := pm.GetConfig()
	assert.False(t, ok)

	require.NoError(t, pm.SetConfig(Config{Mode: ModeMonitor, Target: TargetContainer}))
	cfg, ok := pm.GetConfig()
	require.True(t, ok)
	assert.Equal(t, Config{Mode: ModeMonitor, Target: TargetContainer}, cfg)

	assert.Error(t, pm.SetConfig(Config{Mode: 9}))

	require.NoError(t, pm.ClearConfig())
	_, ok = pm.GetConfig()
	assert.False(t, ok)
}

// TestApply tests loading a declarative policy
func TestApply(t *testing.T) {
	pm, store := newTestManager()

	err := pm.Apply(Spec{
		Config:     Config{Mode: ModeEnforce, Target: TargetContainer},
		AllowCIDRs: []string{"10.0.0.0/8", "1.1.1.1"},
		DenyCIDRs:  []string{"10.0.0.1"},
		Commands:   []string{"apt"},
	})
	require.NoError(t, err)

	cfg, ok := store.LoadConfig()
	require.True(t, ok)
	assert.Equal(t, TargetContainer, cfg.Target)
	assert.True(t, store.Allowed([4]byte{1, 1, 1, 1}))
	assert.True(t, store.Denied([4]byte{10, 0, 0, 1}))

	rules, _ := pm.ListRules()
	assert.Len(t, rules, 3)

	assert.Error(t, pm.Apply(Spec{Config: DefaultConfig(), AllowCIDRs: []string{"nope"}}))
}

// TestApplyRuleIDs tests that config rules use the reserved id range and
// are never persisted or deleted from storage
func TestApplyRuleIDs(t *testing.T) {
	storage := new(MockStorage)
	pm := NewManagerWithStorage(NewMemoryStore(0), storage)

	require.NoError(t, pm.Apply(Spec{Config: DefaultConfig(), AllowCIDRs: []string{"10.0.0.0/8"}}))
	storage.On("SaveRule", mock.Anything).Return(nil)
	api := &Rule{CIDR: "192.168.1.1", Action: "deny"}
	require.NoError(t, pm.AddRule(api))

	rules, _ := pm.ListRules()
	require.Len(t, rules, 2)
	assert.Equal(t, uint32(1), rules[0].RuleID)
	assert.False(t, rules[0].FromConfig())
	assert.Equal(t, ConfigRuleIDBase, rules[1].RuleID)
	assert.True(t, rules[1].FromConfig())

	require.NoError(t, pm.DeleteRule(ConfigRuleIDBase))
	storage.AssertNotCalled(t, "DeleteRule", mock.Anything)

	assert.ErrorIs(t, pm.AddRule(&Rule{RuleID: ConfigRuleIDBase + 1, CIDR: "1.1.1.1", Action: "allow"}), ErrInvalidRule)
}

// TestRestartWithLongerConfig tests that saved rules survive a restart
// after the config file gained entries
func TestRestartWithLongerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.db")

	storage, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	pm := NewManagerWithStorage(NewMemoryStore(0), storage)
	require.NoError(t, pm.Apply(Spec{Config: DefaultConfig(), AllowCIDRs: []string{"10.0.0.0/8"}}))
	require.NoError(t, pm.AddRule(&Rule{CIDR: "192.168.1.1/32", Action: "deny"}))
	require.NoError(t, storage.Close())

	storage, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	store := NewMemoryStore(0)
	pm = NewManagerWithStorage(store, storage)
	require.NoError(t, pm.Apply(Spec{
		Config:     DefaultConfig(),
		AllowCIDRs: []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
	}))
	require.NoError(t, pm.LoadPersisted())

	assert.True(t, store.Denied([4]byte{192, 168, 1, 1}))
	rules, _ := pm.ListRules()
	assert.Len(t, rules, 4)

	for _, r := range rules {
		if r.FromConfig() {
			require.NoError(t, pm.DeleteRule(r.RuleID))
		}
	}
	saved, err := storage.LoadRules()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "192.168.1.1/32", saved[0].CIDR)
}

// TestParseHelpers tests mode, target and command parsing
func TestParseHelpers(t *testing.T) {
	m, err := ParseMode("monitor")
	require.NoError(t, err)
	assert.Equal(t, ModeMonitor, m)
	m, err = ParseMode("BLOCK")
	require.NoError(t, err)
	assert.Equal(t, ModeEnforce, m)
	_, err = ParseMode("audit")
	assert.ErrorIs(t, err, ErrUnknownMode)

	tg, err := ParseTarget("container")
	require.NoError(t, err)
	assert.Equal(t, TargetContainer, tg)
	_, err = ParseTarget("pod")
	assert.ErrorIs(t, err, ErrUnknownTarget)

	assert.Equal(t, Config{Mode: ModeEnforce, Target: TargetHost}, DefaultConfig())

	c, err := ParseCommand("exactly15bytes!")
	require.NoError(t, err)
	assert.Equal(t, "exactly15bytes!", c.String())
	assert.Equal(t, byte(0), c[15])

	_, err = ParseCommand("a\x00b")
	assert.ErrorIs(t, err, ErrInvalidCommand)
}
