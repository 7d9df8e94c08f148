// File: facade/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds parameters fixed for the lifetime of a Hioload instance.
// Transfer defaults are also published to the control store, where a
// reload can change them for handles created afterwards.
type Config struct {
	Name            string        `yaml:"name"`             // Engine label for metrics and logs
	IngressCapacity int           `yaml:"ingress_capacity"` // Cross-goroutine submission ring size
	MaxWait         time.Duration `yaml:"max_wait"`         // Upper bound of one blocking poll, 0 = unbounded
	Timeout         time.Duration `yaml:"timeout"`          // Default total transfer timeout, 0 = none
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`  // Default connect timeout
	UserAgent       string        `yaml:"user_agent"`       // Default User-Agent header
	DNSCacheTTL     time.Duration `yaml:"dns_cache_ttl"`    // Shared resolver cache lifetime
	EnableMetrics   bool          `yaml:"enable_metrics"`   // Register engine collectors
	EnableDebug     bool          `yaml:"enable_debug"`     // Register debug probes
	MaxGoroutines   int           `yaml:"max_goroutines"`   // Readiness limit, 0 disables the check
	ReloadFile      string        `yaml:"reload_file"`      // Optional YAML with runtime-mutable keys
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Name:            "default",
		IngressCapacity: 1024,
		MaxWait:         0,
		Timeout:         0,
		ConnectTimeout:  30 * time.Second,
		UserAgent:       "hioload-xfer/1.0",
		DNSCacheTTL:     60 * time.Second,
		EnableMetrics:   true,
		EnableDebug:     true,
		MaxGoroutines:   0,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("facade: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("facade: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.IngressCapacity <= 0:
		return fmt.Errorf("facade: ingress_capacity must be positive, got %d", c.IngressCapacity)
	case c.MaxWait < 0, c.Timeout < 0, c.ConnectTimeout < 0, c.DNSCacheTTL < 0:
		return fmt.Errorf("facade: durations must not be negative")
	case c.MaxGoroutines < 0:
		return fmt.Errorf("facade: max_goroutines must not be negative")
	}
	return nil
}
