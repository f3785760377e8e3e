// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ebpf-microsegment/connguard/pkg/lpm"
)

// Resolver turns a host name into addresses.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.Addr, error)
}

// DefaultResolver resolves through the system resolver.
type DefaultResolver struct {
	r *net.Resolver
}

func NewDefaultResolver() *DefaultResolver {
	return &DefaultResolver{r: net.DefaultResolver}
}

func (d *DefaultResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	return d.r.LookupNetIP(ctx, "ip", host)
}

type domainRef struct {
	action string
	name   string
}

// DomainBinding is a domain and the /32 entries it currently holds.
type DomainBinding struct {
	Domain    string
	Action    string
	Addresses []string
}

// bindDomain registers a domain without resolving it; RefreshDomains
// fills in its entries.
func (pm *PolicyManager) bindDomain(domain, action string) {
	ref := domainRef{action: action, name: strings.ToLower(strings.TrimSuffix(domain, "."))}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, ok := pm.domains[ref]; !ok {
		pm.domains[ref] = nil
	}
}

// SyncDomain resolves domain and reconciles its /32 entries in the
// action's table: new addresses are inserted before addresses that
// dropped out of the answer are removed.
func (pm *PolicyManager) SyncDomain(ctx context.Context, domain, action string) error {
	action, err := parseAction(action)
	if err != nil {
		return err
	}
	ref := domainRef{action: action, name: strings.ToLower(strings.TrimSuffix(domain, "."))}
	if ref.name == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidRule)
	}

	pm.mu.Lock()
	resolver := pm.resolver
	pm.mu.Unlock()

	addrs, err := resolver.Resolve(ctx, ref.name)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", ref.name, err)
	}

	fresh := make([]lpm.Key, 0, len(addrs))
	seen := make(map[lpm.Key]bool, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		if !a.Is4() {
			log.Debugf("Skipping non-IPv4 address %s for %s", a, ref.name)
			continue
		}
		k := lpm.HostKey(a.As4())
		if !seen[k] {
			seen[k] = true
			fresh = append(fresh, k)
		}
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	old := pm.domains[ref]
	held := make(map[lpm.Key]bool, len(old))
	for _, k := range old {
		held[k] = true
	}

	kept := make([]lpm.Key, 0, len(fresh))
	var errs []error
	for _, k := range fresh {
		if held[k] {
			kept = append(kept, k)
			continue
		}
		if err := pm.acquireLocked(tableRef{action: action, key: k}); err != nil {
			errs = append(errs, err)
			continue
		}
		kept = append(kept, k)
	}

	for _, k := range staleKeys(old, fresh) {
		if err := pm.releaseLocked(tableRef{action: action, key: k}); err != nil {
			errs = append(errs, err)
			kept = append(kept, k)
			continue
		}
		log.Infof("Domain %s no longer resolves to %s, removed from %s table", ref.name, k.Prefix().Addr(), action)
	}

	pm.domains[ref] = kept
	log.Debugf("Domain %s (%s) holds %d addresses", ref.name, action, len(kept))
	return errors.Join(errs...)
}

// RemoveDomain drops a domain binding and releases its entries.
func (pm *PolicyManager) RemoveDomain(domain, action string) error {
	action, err := parseAction(action)
	if err != nil {
		return err
	}
	ref := domainRef{action: action, name: strings.ToLower(strings.TrimSuffix(domain, "."))}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	keys, ok := pm.domains[ref]
	if !ok {
		return fmt.Errorf("%w: domain %s", ErrRuleNotFound, ref.name)
	}
	var errs []error
	for _, k := range keys {
		if err := pm.releaseLocked(tableRef{action: action, key: k}); err != nil {
			errs = append(errs, err)
		}
	}
	delete(pm.domains, ref)
	return errors.Join(errs...)
}

// RefreshDomains re-resolves every bound domain.
func (pm *PolicyManager) RefreshDomains(ctx context.Context) error {
	pm.mu.Lock()
	refs := make([]domainRef, 0, len(pm.domains))
	for ref := range pm.domains {
		refs = append(refs, ref)
	}
	pm.mu.Unlock()

	var errs []error
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pm.SyncDomain(ctx, ref.name, ref.action); err != nil {
			log.Warnf("Domain refresh failed for %s: %v", ref.name, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListDomains returns the domain bindings ordered by name.
func (pm *PolicyManager) ListDomains() []DomainBinding {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]DomainBinding, 0, len(pm.domains))
	for ref, keys := range pm.domains {
		b := DomainBinding{Domain: ref.name, Action: ref.action}
		for _, k := range keys {
			b.Addresses = append(b.Addresses, k.Prefix().Addr().String())
		}
		sort.Strings(b.Addresses)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// staleKeys returns the cached keys missing from the fresh answer.
func staleKeys(cached, fresh []lpm.Key) []lpm.Key {
	in := make(map[lpm.Key]bool, len(fresh))
	for _, k := range fresh {
		in[k] = true
	}
	var stale []lpm.Key
	for _, k := range cached {
		if !in[k] {
			stale = append(stale, k)
		}
	}
	return stale
}
