// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package config reads the agent configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ebpf-microsegment/connguard/pkg/api"
	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
	"github.com/ebpf-microsegment/connguard/pkg/lpm"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level configuration file.
type Config struct {
	Network   NetworkConfig   `yaml:"network"`
	Log       LogConfig       `yaml:"log"`
	API       api.Config      `yaml:"api"`
	DataPlane DataPlaneConfig `yaml:"dataplane"`
	Storage   StorageConfig   `yaml:"storage"`
	Audit     AuditConfig     `yaml:"audit"`
	DNS       DNSConfig       `yaml:"dns"`
}

// NetworkConfig is the restricted-network policy.
type NetworkConfig struct {
	// Mode is "monitor" or "block".
	Mode string `yaml:"mode"`
	// Target is "host" or "container".
	Target string `yaml:"target"`
	// Namespace selects the identity used for container detection:
	// "pid" or "net".
	Namespace string     `yaml:"namespace"`
	CIDR      ListConfig `yaml:"cidr"`
	Domain    ListConfig `yaml:"domain"`
	Command   struct {
		Allow []string `yaml:"allow"`
	} `yaml:"command"`
}

type ListConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type DataPlaneConfig struct {
	// Enabled loads the kernel program; otherwise decisions run in
	// process only.
	Enabled bool   `yaml:"enabled"`
	Object  string `yaml:"object"`
}

type StorageConfig struct {
	// Path of the sqlite database. Empty disables persistence.
	Path string `yaml:"path"`
}

type AuditConfig struct {
	// Buffer is the in-process channel capacity.
	Buffer int `yaml:"buffer"`
	// Output is a file receiving JSON lines; "-" is stdout, empty
	// disables it.
	Output string `yaml:"output"`
	// Enrich adds executable and cmdline to rendered entries.
	Enrich bool `yaml:"enrich"`
}

type DNSConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Default returns the configuration used when no file is given: block
// mode on the host with empty tables.
func Default() *Config {
	cfg := &Config{
		Network: NetworkConfig{
			Mode:      policy.ModeEnforce.String(),
			Target:    policy.TargetHost.String(),
			Namespace: execctx.KindPID.String(),
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		API:       *api.DefaultConfig(),
		DataPlane: DataPlaneConfig{Object: "pkg/dataplane/connguard_bpfel.o"},
		Audit:     AuditConfig{Buffer: audit.DefaultRingCapacity},
		DNS:       DNSConfig{RefreshInterval: time.Minute},
	}
	return cfg
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("Loaded config from %s", path)
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if _, err := policy.ParseMode(c.Network.Mode); err != nil {
		add("network.mode: %v", err)
	}
	if _, err := policy.ParseTarget(c.Network.Target); err != nil {
		add("network.target: %v", err)
	}
	if _, err := execctx.ParseKind(c.Network.Namespace); err != nil {
		add("network.namespace: %v", err)
	}
	for _, list := range []struct {
		field string
		cidrs []string
	}{
		{"network.cidr.allow", c.Network.CIDR.Allow},
		{"network.cidr.deny", c.Network.CIDR.Deny},
	} {
		seen := make(map[lpm.Key]string, len(list.cidrs))
		for _, s := range list.cidrs {
			k, err := lpm.ParseCIDR(s)
			if err != nil {
				add("%s: %v", list.field, err)
				continue
			}
			if prev, dup := seen[k]; dup {
				add("%s: %q duplicates %q as %s", list.field, s, prev, k)
				continue
			}
			seen[k] = s
		}
	}
	for _, d := range append(append([]string{}, c.Network.Domain.Allow...), c.Network.Domain.Deny...) {
		if strings.TrimSpace(d) == "" {
			add("network.domain: empty name")
		}
	}
	for _, name := range c.Network.Command.Allow {
		if _, err := policy.ParseCommand(name); err != nil {
			add("network.command.allow: %v", err)
		}
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format: %q is not text or json", c.Log.Format)
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		add("api.port: %d out of range", c.API.Port)
	}
	if c.DataPlane.Enabled && c.DataPlane.Object == "" {
		add("dataplane.object: required when dataplane is enabled")
	}
	if c.Audit.Buffer <= 0 {
		add("audit.buffer: must be positive")
	}
	if c.DNS.RefreshInterval < 0 {
		add("dns.refresh_interval: must not be negative")
	}

	return errors.Join(errs...)
}

// PolicySpec converts the network section into a declarative policy.
// The config must already be valid.
func (c *Config) PolicySpec() (policy.Spec, error) {
	mode, err := policy.ParseMode(c.Network.Mode)
	if err != nil {
		return policy.Spec{}, err
	}
	target, err := policy.ParseTarget(c.Network.Target)
	if err != nil {
		return policy.Spec{}, err
	}
	return policy.Spec{
		Config:       policy.Config{Mode: mode, Target: target},
		AllowCIDRs:   c.Network.CIDR.Allow,
		DenyCIDRs:    c.Network.CIDR.Deny,
		AllowDomains: c.Network.Domain.Allow,
		DenyDomains:  c.Network.Domain.Deny,
		Commands:     c.Network.Command.Allow,
	}, nil
}

// NamespaceKind returns the namespace identity used for container
// detection.
func (c *Config) NamespaceKind() execctx.Kind {
	k, err := execctx.ParseKind(c.Network.Namespace)
	if err != nil {
		return execctx.KindPID
	}
	return k
}

// ConfigureLogging applies the log section to the standard logrus
// logger.
func (c *Config) ConfigureLogging() {
	if level, err := log.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
