// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebpf-microsegment/connguard/pkg/lpm"
)

type fakeResolver struct {
	mu      sync.Mutex
	answers map[string][]netip.Addr
	err     error
}

func (f *fakeResolver) set(host string, addrs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []netip.Addr
	for _, a := range addrs {
		out = append(out, netip.MustParseAddr(a))
	}
	f.answers[host] = out
}

func (f *fakeResolver) Resolve(_ context.Context, host string) ([]netip.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.answers[host], nil
}

func newDomainManager() (*PolicyManager, *Store, *fakeResolver) {
	pm, store := newTestManager()
	r := &fakeResolver{answers: map[string][]netip.Addr{}}
	pm.SetResolver(r)
	return pm, store, r
}

// TestSyncDomain tests resolution into /32 entries, skipping IPv6
func TestSyncDomain(t *testing.T) {
	pm, store, r := newDomainManager()
	r.set("example.com", "93.184.216.34", "2606:2800:220:1::1", "::ffff:93.184.216.35")

	require.NoError(t, pm.SyncDomain(context.Background(), "Example.com.", "deny"))

	assert.True(t, store.Denied([4]byte{93, 184, 216, 34}))
	assert.True(t, store.Denied([4]byte{93, 184, 216, 35}))
	assert.False(t, store.Denied([4]byte{93, 184, 216, 36}))

	bindings := pm.ListDomains()
	require.Len(t, bindings, 1)
	assert.Equal(t, "example.com", bindings[0].Domain)
	assert.Equal(t, []string{"93.184.216.34", "93.184.216.35"}, bindings[0].Addresses)
}

// TestSyncDomainReplacesStale tests that addresses missing from a
// fresh answer are removed
func TestSyncDomainReplacesStale(t *testing.T) {
	pm, store, r := newDomainManager()
	ctx := context.Background()

	r.set("api.example.com", "1.2.3.4", "1.2.3.5")
	require.NoError(t, pm.SyncDomain(ctx, "api.example.com", "allow"))

	r.set("api.example.com", "1.2.3.5", "1.2.3.6")
	require.NoError(t, pm.SyncDomain(ctx, "api.example.com", "allow"))

	assert.False(t, store.Allowed([4]byte{1, 2, 3, 4}))
	assert.True(t, store.Allowed([4]byte{1, 2, 3, 5}))
	assert.True(t, store.Allowed([4]byte{1, 2, 3, 6}))
}

// TestDomainSharesEntryWithRule tests that a stale domain address does
// not remove an entry a rule still holds
func TestDomainSharesEntryWithRule(t *testing.T) {
	pm, store, r := newDomainManager()
	ctx := context.Background()

	require.NoError(t, pm.AddRule(&Rule{CIDR: "1.2.3.4", Action: "allow"}))
	r.set("a.example", "1.2.3.4")
	require.NoError(t, pm.SyncDomain(ctx, "a.example", "allow"))

	r.set("a.example")
	require.NoError(t, pm.SyncDomain(ctx, "a.example", "allow"))
	assert.True(t, store.Allowed([4]byte{1, 2, 3, 4}))

	rules, _ := pm.ListRules()
	require.NoError(t, pm.DeleteRule(rules[0].RuleID))
	assert.False(t, store.Allowed([4]byte{1, 2, 3, 4}))
}

// TestRefreshDomains tests refreshing bound domains and error handling
func TestRefreshDomains(t *testing.T) {
	pm, store, r := newDomainManager()
	ctx := context.Background()

	require.NoError(t, pm.Apply(Spec{Config: DefaultConfig(), AllowDomains: []string{"b.example"}}))
	assert.Equal(t, 0, countKeys(t, store.Allow))

	r.set("b.example", "5.5.5.5")
	require.NoError(t, pm.RefreshDomains(ctx))
	assert.True(t, store.Allowed([4]byte{5, 5, 5, 5}))

	r.err = errors.New("servfail")
	assert.Error(t, pm.RefreshDomains(ctx))
	// A failed refresh keeps the previous answer.
	assert.True(t, store.Allowed([4]byte{5, 5, 5, 5}))
}

// TestRemoveDomain tests dropping a binding
func TestRemoveDomain(t *testing.T) {
	pm, store, r := newDomainManager()
	r.set("c.example", "7.7.7.7")
	require.NoError(t, pm.SyncDomain(context.Background(), "c.example", "deny"))

	require.NoError(t, pm.RemoveDomain("c.example", "deny"))
	assert.False(t, store.Denied([4]byte{7, 7, 7, 7}))
	assert.ErrorIs(t, pm.RemoveDomain("c.example", "deny"), ErrRuleNotFound)
}

// TestStaleKeys tests the cache comparison
func TestStaleKeys(t *testing.T) {
	a := lpm.HostKey([4]byte{1, 1, 1, 1})
	b := lpm.HostKey([4]byte{2, 2, 2, 2})
	c := lpm.HostKey([4]byte{3, 3, 3, 3})

	assert.Equal(t, []lpm.Key{a}, staleKeys([]lpm.Key{a, b}, []lpm.Key{b, c}))
	assert.Empty(t, staleKeys([]lpm.Key{a}, []lpm.Key{a}))
	assert.Empty(t, staleKeys(nil, []lpm.Key{a}))
}

func countKeys(t *testing.T, table PrefixTable) int {
	t.Helper()
	keys, err := table.Keys()
	require.NoError(t, err)
	return len(keys)
}
