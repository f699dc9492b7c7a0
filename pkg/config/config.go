// Package config loads the tunables that make up the control loop's
// configuration surface from a YAML file, the way the reference
// orchestrator loads its Manager Config — except persisted on disk
// rather than only passed as a struct literal, since these tunables
// are meant to be operator-adjustable without a rebuild.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/nodewatch/pkg/node"
)

// Config is the control loop's tunable surface.
type Config struct {
	DataDir  string `yaml:"dataDir"`
	BindAddr string `yaml:"bindAddr"`

	// FailerInterval is the failer maintainer's tick cadence. Must
	// satisfy FailerInterval <= min(DownTimeLimit/2, 5m); Validate
	// enforces this.
	FailerInterval time.Duration `yaml:"failerInterval"`

	// DownTimeLimit is the grace between a node's first recorded DOWN
	// observation and the failer treating it as eligible to fail.
	DownTimeLimit time.Duration `yaml:"downTimeLimit"`

	// NodeRequestInterval is the expected heartbeat/config-request
	// cadence of a ready node.
	NodeRequestInterval time.Duration `yaml:"nodeRequestInterval"`

	// ExpirerInterval is the expirer maintainer's tick cadence.
	ExpirerInterval time.Duration `yaml:"expirerInterval"`

	// FailTimeout is the minimum age in State==failed before the
	// expirer will recycle, park, or retain a node.
	FailTimeout time.Duration `yaml:"failTimeout"`

	Throttle node.ThrottlePolicy `yaml:"throttle"`

	Environment node.Environment `yaml:"environment"`
}

// Default returns the recommended production defaults.
func Default() Config {
	return Config{
		DataDir:             "/var/lib/nodewatch",
		BindAddr:            "127.0.0.1:7980",
		FailerInterval:      5 * time.Minute,
		DownTimeLimit:       30 * time.Minute,
		NodeRequestInterval: 10 * time.Minute,
		ExpirerInterval:     15 * time.Minute,
		FailTimeout:         24 * time.Hour,
		Throttle: node.ThrottlePolicy{
			ThrottleWindow:        24 * time.Hour,
			FractionAllowedToFail: 0.01,
			MinimumAllowedToFail:  2,
		},
		Environment: node.EnvironmentProduction,
	}
}

// Load reads and parses a YAML config file, taking any field the file
// does not set from Default(). A field the file sets explicitly, even
// to zero, is kept as written.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the failer interval constraint.
func (c Config) Validate() error {
	maxInterval := c.DownTimeLimit / 2
	if fiveMin := 5 * time.Minute; fiveMin < maxInterval {
		maxInterval = fiveMin
	}
	if c.FailerInterval <= 0 || c.FailerInterval > maxInterval {
		return fmt.Errorf("failerInterval %s must be > 0 and <= min(downTimeLimit/2, 5m) = %s", c.FailerInterval, maxInterval)
	}
	if c.NodeRequestInterval <= 0 {
		return fmt.Errorf("nodeRequestInterval must be positive")
	}
	if c.FailTimeout <= 0 {
		return fmt.Errorf("failTimeout must be positive")
	}
	if c.ExpirerInterval <= 0 {
		return fmt.Errorf("expirerInterval must be positive")
	}
	return nil
}
