// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ebpf-microsegment/connguard/pkg/lpm"
)

const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

var (
	ErrRuleExists   = errors.New("rule already exists")
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid rule")
)

// ConfigRuleIDBase is the first rule id handed to rules loaded by Apply.
// Ids below it belong to rules added at runtime, which are the only ones
// persisted, so a config file that grows never collides with them.
const ConfigRuleIDBase uint32 = 1 << 31

// Rule is a CIDR entry in the allow or deny table.
type Rule struct {
	RuleID      uint32
	CIDR        string // CIDR notation or a bare IPv4 address
	Action      string // "allow", "deny"
	Description string
}

// FromConfig reports whether the rule was loaded from the config file.
func (r Rule) FromConfig() bool {
	return r.RuleID >= ConfigRuleIDBase
}

// Spec is a declarative policy, typically read from the config file.
type Spec struct {
	Config       Config
	AllowCIDRs   []string
	DenyCIDRs    []string
	AllowDomains []string
	DenyDomains  []string
	Commands     []string
}

type tableRef struct {
	action string
	key    lpm.Key
}

// PolicyManager is the control plane over a Store. It names CIDR entries
// with rule ids, reference-counts table entries shared between rules and
// resolved domains, and persists changes when storage is configured.
type PolicyManager struct {
	store    *Store
	storage  Storage
	resolver Resolver

	mu      sync.Mutex
	rules   map[uint32]Rule
	refs    map[tableRef]int
	domains map[domainRef][]lpm.Key
}

// NewManager creates a policy manager without persistence
func NewManager(store *Store) *PolicyManager {
	return &PolicyManager{
		store:    store,
		resolver: NewDefaultResolver(),
		rules:    make(map[uint32]Rule),
		refs:     make(map[tableRef]int),
		domains:  make(map[domainRef][]lpm.Key),
	}
}

// NewManagerWithStorage creates a policy manager that persists rules,
// commands and config
func NewManagerWithStorage(store *Store, storage Storage) *PolicyManager {
	pm := NewManager(store)
	pm.storage = storage
	return pm
}

// SetResolver replaces the resolver used for domain entries.
func (pm *PolicyManager) SetResolver(r Resolver) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.resolver = r
}

// Store returns the tables the manager writes to.
func (pm *PolicyManager) Store() *Store {
	return pm.store
}

// LoadPersisted restores rules, commands and config from storage.
func (pm *PolicyManager) LoadPersisted() error {
	if pm.storage == nil {
		return fmt.Errorf("no storage configured")
	}

	cfg, ok, err := pm.storage.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config from storage: %w", err)
	}
	if ok {
		if err := pm.store.Config.Store(cfg); err != nil {
			log.Warnf("Failed to restore config: %v", err)
		}
	}

	rules, err := pm.storage.LoadRules()
	if err != nil {
		return fmt.Errorf("failed to load rules from storage: %w", err)
	}
	restored := 0
	for i := range rules {
		if err := pm.addRule(&rules[i], false); err != nil {
			log.Warnf("Failed to restore rule rule_id=%d: %v", rules[i].RuleID, err)
			continue
		}
		restored++
	}

	commands, err := pm.storage.LoadCommands()
	if err != nil {
		return fmt.Errorf("failed to load commands from storage: %w", err)
	}
	for _, name := range commands {
		if err := pm.addCommand(name); err != nil {
			log.Warnf("Failed to restore command %q: %v", name, err)
		}
	}

	log.Infof("Restored %d/%d rules and %d commands from storage", restored, len(rules), len(commands))
	return nil
}

// AddRule validates r, inserts its prefix and persists it. The CIDR is
// stored in canonical form.
func (pm *PolicyManager) AddRule(r *Rule) error {
	if err := pm.addRule(r, false); err != nil {
		return err
	}
	if pm.storage != nil {
		if err := pm.storage.SaveRule(r); err != nil {
			log.Warnf("Failed to persist rule rule_id=%d: %v", r.RuleID, err)
		}
	}
	return nil
}

// addRule registers r. Config rules take ids from ConfigRuleIDBase up;
// all others must stay below it.
func (pm *PolicyManager) addRule(r *Rule, config bool) error {
	action, err := parseAction(r.Action)
	if err != nil {
		return err
	}
	key, err := lpm.ParseCIDR(r.CIDR)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if r.RuleID == 0 {
		if config {
			r.RuleID = pm.nextRuleIDLocked(ConfigRuleIDBase, ^uint32(0))
		} else {
			r.RuleID = pm.nextRuleIDLocked(1, ConfigRuleIDBase)
		}
	}
	if r.RuleID == 0 || r.FromConfig() != config {
		return fmt.Errorf("%w: rule_id=%d outside the allowed range", ErrInvalidRule, r.RuleID)
	}
	if _, ok := pm.rules[r.RuleID]; ok {
		return fmt.Errorf("%w: rule_id=%d", ErrRuleExists, r.RuleID)
	}
	for _, existing := range pm.rules {
		if existing.Action == action && existing.CIDR == key.String() {
			return fmt.Errorf("%w: %s %s is rule_id=%d", ErrRuleExists, action, key, existing.RuleID)
		}
	}

	if err := pm.acquireLocked(tableRef{action: action, key: key}); err != nil {
		return err
	}

	r.Action = action
	r.CIDR = key.String()
	pm.rules[r.RuleID] = *r

	log.Infof("Rule added: rule_id=%d %s %s", r.RuleID, action, r.CIDR)
	return nil
}

// DeleteRule removes a rule and, if nothing else references it, its
// table entry.
func (pm *PolicyManager) DeleteRule(ruleID uint32) error {
	pm.mu.Lock()
	r, ok := pm.rules[ruleID]
	if !ok {
		pm.mu.Unlock()
		return fmt.Errorf("%w: rule_id=%d", ErrRuleNotFound, ruleID)
	}
	key, err := lpm.ParseCIDR(r.CIDR)
	if err == nil {
		err = pm.releaseLocked(tableRef{action: r.Action, key: key})
	}
	if err != nil {
		pm.mu.Unlock()
		return err
	}
	delete(pm.rules, ruleID)
	pm.mu.Unlock()

	log.Infof("Rule deleted: rule_id=%d %s %s", ruleID, r.Action, r.CIDR)

	if pm.storage != nil && !r.FromConfig() {
		if err := pm.storage.DeleteRule(ruleID); err != nil {
			log.Warnf("Failed to delete rule from storage rule_id=%d: %v", ruleID, err)
		}
	}
	return nil
}

// GetRule returns one rule by id.
func (pm *PolicyManager) GetRule(ruleID uint32) (Rule, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	r, ok := pm.rules[ruleID]
	if !ok {
		return Rule{}, fmt.Errorf("%w: rule_id=%d", ErrRuleNotFound, ruleID)
	}
	return r, nil
}

// ListRules returns all rules ordered by id.
func (pm *PolicyManager) ListRules() ([]Rule, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	rules := make([]Rule, 0, len(pm.rules))
	for _, r := range pm.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].RuleID < rules[j].RuleID })
	return rules, nil
}

// AddCommand exempts a command name from enforcement.
func (pm *PolicyManager) AddCommand(name string) error {
	if err := pm.addCommand(name); err != nil {
		return err
	}
	if pm.storage != nil {
		c, _ := ParseCommand(name)
		if err := pm.storage.SaveCommand(c.String()); err != nil {
			log.Warnf("Failed to persist command %q: %v", name, err)
		}
	}
	return nil
}

func (pm *PolicyManager) addCommand(name string) error {
	c, err := ParseCommand(name)
	if err != nil {
		return err
	}
	if err := pm.store.Exempt.Insert(c); err != nil {
		return fmt.Errorf("failed to exempt command %q: %w", name, err)
	}
	if c.String() != name {
		log.Warnf("Command %q truncated to %q", name, c.String())
	}
	log.Infof("Command exempted: %s", c)
	return nil
}

// DeleteCommand removes an exemption.
func (pm *PolicyManager) DeleteCommand(name string) error {
	c, err := ParseCommand(name)
	if err != nil {
		return err
	}
	if err := pm.store.Exempt.Delete(c); err != nil {
		return fmt.Errorf("failed to remove command %q: %w", name, err)
	}
	log.Infof("Command exemption removed: %s", c)

	if pm.storage != nil {
		if err := pm.storage.DeleteCommand(c.String()); err != nil {
			log.Warnf("Failed to delete command from storage %q: %v", name, err)
		}
	}
	return nil
}

// ListCommands returns the exempted command names.
func (pm *PolicyManager) ListCommands() ([]string, error) {
	commands, err := pm.store.Exempt.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.String())
	}
	return names, nil
}

// SetConfig writes the configuration record.
func (pm *PolicyManager) SetConfig(c Config) error {
	if err := pm.store.Config.Store(c); err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	log.Infof("Config set: mode=%s target=%s", c.Mode, c.Target)

	if pm.storage != nil {
		if err := pm.storage.SaveConfig(c); err != nil {
			log.Warnf("Failed to persist config: %v", err)
		}
	}
	return nil
}

// GetConfig returns the record and whether it is present.
func (pm *PolicyManager) GetConfig() (Config, bool) {
	return pm.store.Config.Load()
}

// ClearConfig removes the record so the hook falls back to defaults.
func (pm *PolicyManager) ClearConfig() error {
	if err := pm.store.Config.Clear(); err != nil {
		return err
	}
	log.Info("Config cleared, defaults apply")

	if pm.storage != nil {
		if err := pm.storage.ClearConfig(); err != nil {
			log.Warnf("Failed to clear persisted config: %v", err)
		}
	}
	return nil
}

// Apply loads a declarative policy: config record, CIDR rules, command
// exemptions and domain bindings. Domain resolution failures are logged
// and do not abort the rest.
func (pm *PolicyManager) Apply(spec Spec) error {
	if err := pm.store.Config.Store(spec.Config); err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}

	for _, cidr := range spec.AllowCIDRs {
		if err := pm.addRule(&Rule{CIDR: cidr, Action: ActionAllow, Description: "config"}, true); err != nil {
			return fmt.Errorf("allow %s: %w", cidr, err)
		}
	}
	for _, cidr := range spec.DenyCIDRs {
		if err := pm.addRule(&Rule{CIDR: cidr, Action: ActionDeny, Description: "config"}, true); err != nil {
			return fmt.Errorf("deny %s: %w", cidr, err)
		}
	}
	for _, name := range spec.Commands {
		if err := pm.addCommand(name); err != nil {
			return fmt.Errorf("command %s: %w", name, err)
		}
	}

	for _, d := range spec.AllowDomains {
		pm.bindDomain(d, ActionAllow)
	}
	for _, d := range spec.DenyDomains {
		pm.bindDomain(d, ActionDeny)
	}

	log.Infof("Policy applied: mode=%s target=%s allow=%d deny=%d commands=%d domains=%d",
		spec.Config.Mode, spec.Config.Target, len(spec.AllowCIDRs), len(spec.DenyCIDRs),
		len(spec.Commands), len(spec.AllowDomains)+len(spec.DenyDomains))
	return nil
}

func (pm *PolicyManager) table(action string) PrefixTable {
	if action == ActionAllow {
		return pm.store.Allow
	}
	return pm.store.Deny
}

// acquireLocked inserts the entry on the first reference.
func (pm *PolicyManager) acquireLocked(ref tableRef) error {
	if pm.refs[ref] == 0 {
		if err := pm.table(ref.action).Insert(ref.key); err != nil {
			return fmt.Errorf("failed to add %s to %s table: %w", ref.key, ref.action, err)
		}
	}
	pm.refs[ref]++
	return nil
}

// releaseLocked deletes the entry when the last reference goes away.
func (pm *PolicyManager) releaseLocked(ref tableRef) error {
	n := pm.refs[ref]
	if n == 0 {
		return nil
	}
	if n == 1 {
		if err := pm.table(ref.action).Delete(ref.key); err != nil && !errors.Is(err, lpm.ErrNotFound) {
			return fmt.Errorf("failed to remove %s from %s table: %w", ref.key, ref.action, err)
		}
		delete(pm.refs, ref)
		return nil
	}
	pm.refs[ref] = n - 1
	return nil
}

// nextRuleIDLocked returns one past the highest id in [lo, hi), or lo.
// It returns 0 when the range is exhausted.
func (pm *PolicyManager) nextRuleIDLocked(lo, hi uint32) uint32 {
	next := lo
	for id := range pm.rules {
		if id >= lo && id < hi && id >= next {
			next = id + 1
		}
	}
	if next >= hi {
		return 0
	}
	return next
}

func parseAction(action string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionAllow:
		return ActionAllow, nil
	case ActionDeny, "block":
		return ActionDeny, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRule, action)
	}
}
