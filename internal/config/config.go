// File: internal/config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// YAML configuration of an accept daemon.

package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-uring/access"
	"github.com/momentics/hioload-uring/api"
)

// Config is the top-level configuration structure.
type Config struct {
	AccessControl map[string]ACLConfig `yaml:"access_control"`
	Listeners     ListenersConfig      `yaml:"listeners"`
	Log           LogConfig            `yaml:"log"`
	Coroutine     CoroutineConfig      `yaml:"coroutine"`
	Ring          RingConfig           `yaml:"ring"`
	Workers       int                  `yaml:"workers"`
	PinThreads    bool                 `yaml:"pin_threads"`
}

// RingConfig sizes each worker's completion ring.
type RingConfig struct {
	Entries      uint32   `yaml:"entries"`
	Tick         Duration `yaml:"tick"`          // admin timeout bounding each wait
	InboundQueue int      `yaml:"inbound_queue"` // published connections per worker
}

// CoroutineConfig sizes coroutine slots.
type CoroutineConfig struct {
	Allocator  string `yaml:"allocator"` // "mmap" or "heap"
	ArenaBytes int    `yaml:"arena_bytes"`
}

// LogConfig controls the observability sink.
type LogConfig struct {
	Level        string `yaml:"level"`
	RatePerSec   int    `yaml:"rate_per_second"`
	RatePerMin   int    `yaml:"rate_per_minute"`
	DisableLimit bool   `yaml:"disable_rate_limit"`
}

// ListenersConfig groups listeners by kind.
type ListenersConfig struct {
	TCP4 []ListenerConfig `yaml:"tcp4"`
	TCP6 []ListenerConfig `yaml:"tcp6"`
	Unix []ListenerConfig `yaml:"unix"`
}

// ListenerConfig describes one listening socket.
type ListenerConfig struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"` // tcp4/tcp6 "host:port"
	Path      string `yaml:"path"`    // unix socket path
	Mode      string `yaml:"mode"`    // octal file mode for unix sockets
	ACL       string `yaml:"acl"`     // key into access_control, empty allows all
	Protocol  string `yaml:"protocol"`
	Backlog   int    `yaml:"backlog"`
	ReusePort bool   `yaml:"reuse_port"`
}

// ACLConfig is one named access control table.
type ACLConfig struct {
	Default           string       `yaml:"default"` // "allow" or "deny"
	Rules             []RuleConfig `yaml:"rules"`
	UIDs              []UIDConfig  `yaml:"uids"`
	DefaultPermission uint64       `yaml:"default_permission"`
}

// RuleConfig matches TCP peers by prefix.
type RuleConfig struct {
	CIDR       string `yaml:"cidr"`
	Permission uint64 `yaml:"permission"`
	Deny       bool   `yaml:"deny"`
}

// UIDConfig matches unix peers by uid.
type UIDConfig struct {
	UID        uint32 `yaml:"uid"`
	Permission uint64 `yaml:"permission"`
	Deny       bool   `yaml:"deny"`
}

// Duration wraps time.Duration for YAML strings like "100ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the configuration used for unset keys.
func Default() *Config {
	return &Config{
		Workers: 1,
		Ring: RingConfig{
			Entries:      256,
			Tick:         Duration{100 * time.Millisecond},
			InboundQueue: 1024,
		},
		Coroutine: CoroutineConfig{Allocator: "mmap", ArenaBytes: 4096},
		Log:       LogConfig{Level: "info", RatePerSec: 10, RatePerMin: 100},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross references.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers: must be at least 1, got %d", c.Workers))
	}
	if c.Ring.Entries == 0 {
		errs = append(errs, errors.New("ring.entries: must be positive"))
	}
	if c.Ring.Tick.Duration <= 0 {
		errs = append(errs, errors.New("ring.tick: must be positive"))
	}
	if c.Ring.InboundQueue < 1 {
		errs = append(errs, errors.New("ring.inbound_queue: must be positive"))
	}
	if c.Coroutine.ArenaBytes < api.SockaddrBufSize {
		errs = append(errs, fmt.Errorf("coroutine.arena_bytes: must be at least %d", api.SockaddrBufSize))
	}
	switch c.Coroutine.Allocator {
	case "mmap", "heap":
	default:
		errs = append(errs, fmt.Errorf("coroutine.allocator: unknown allocator %q", c.Coroutine.Allocator))
	}

	total := 0
	for kind, ls := range c.Listeners.ByKind() {
		for i, l := range ls {
			total++
			where := fmt.Sprintf("listeners.%s[%d]", api.ListenerKind(kind), i)
			if err := c.validateListener(api.ListenerKind(kind), l); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
		}
	}
	if total == 0 {
		errs = append(errs, errors.New("listeners: at least one listener is required"))
	}
	for name, acl := range c.AccessControl {
		if _, err := acl.Build(); err != nil {
			errs = append(errs, fmt.Errorf("access_control.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateListener(kind api.ListenerKind, l ListenerConfig) error {
	if l.ACL != "" {
		if _, ok := c.AccessControl[l.ACL]; !ok {
			return fmt.Errorf("unknown acl %q", l.ACL)
		}
	}
	if kind == api.ListenerUnix {
		if l.Path == "" {
			return errors.New("path is required")
		}
		if _, err := l.FileMode(); err != nil {
			return err
		}
		return nil
	}
	ap, err := netip.ParseAddrPort(l.Address)
	if err != nil {
		return err
	}
	if (kind == api.ListenerTCP4) != ap.Addr().Is4() {
		return fmt.Errorf("address %s does not belong to %s", l.Address, kind)
	}
	return nil
}

// ByKind indexes listeners by api.ListenerKind.
func (l ListenersConfig) ByKind() [api.NumListenerKinds][]ListenerConfig {
	return [api.NumListenerKinds][]ListenerConfig{
		api.ListenerTCP4: l.TCP4,
		api.ListenerTCP6: l.TCP6,
		api.ListenerUnix: l.Unix,
	}
}

// FileMode parses Mode; zero when unset.
func (l ListenerConfig) FileMode() (os.FileMode, error) {
	if l.Mode == "" {
		return 0, nil
	}
	m, err := strconv.ParseUint(l.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("mode %q: %w", l.Mode, err)
	}
	return os.FileMode(m), nil
}

// DisplayName is Name, or the address or path when unnamed.
func (l ListenerConfig) DisplayName() string {
	switch {
	case l.Name != "":
		return l.Name
	case l.Path != "":
		return l.Path
	}
	return l.Address
}

// Build compiles the table.
func (a ACLConfig) Build() (*access.Table, error) {
	var def access.Verdict
	switch a.Default {
	case "", "deny":
	case "allow":
		def = access.Verdict{Permission: api.Permission(a.DefaultPermission), Allow: true}
	default:
		return nil, fmt.Errorf("default: want allow or deny, got %q", a.Default)
	}
	cidrs := make([]access.CIDRRule, 0, len(a.Rules))
	for _, r := range a.Rules {
		p, err := netip.ParsePrefix(r.CIDR)
		if err != nil {
			addr, aerr := netip.ParseAddr(r.CIDR)
			if aerr != nil {
				return nil, err
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		cidrs = append(cidrs, access.CIDRRule{Prefix: p, Verdict: access.Verdict{Permission: api.Permission(r.Permission), Allow: !r.Deny}})
	}
	uids := make([]access.UIDRule, 0, len(a.UIDs))
	for _, u := range a.UIDs {
		uids = append(uids, access.UIDRule{UID: u.UID, Verdict: access.Verdict{Permission: api.Permission(u.Permission), Allow: !u.Deny}})
	}
	return access.New(cidrs, uids, def)
}

// Rates returns the rate limits of the observability sink, nil when disabled.
func (l LogConfig) Rates() map[time.Duration]int {
	if l.DisableLimit {
		return nil
	}
	rates := map[time.Duration]int{}
	if l.RatePerSec > 0 {
		rates[time.Second] = l.RatePerSec
	}
	if l.RatePerMin > 0 {
		rates[time.Minute] = l.RatePerMin
	}
	return rates
}
