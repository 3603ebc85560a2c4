// Package config loads and validates sync configuration. Options are
// resolved into concrete values exactly once, at startup; nothing re-derives
// policy or retry tuning per operation.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftlab/driftsync/internal/resolve"
	"github.com/driftlab/driftsync/internal/txn"
)

// Mode selects which way a sync pass moves changes.
type Mode string

const (
	ModeCloudToLocal Mode = "one_way_cloud_to_local"
	ModeLocalToCloud Mode = "one_way_local_to_cloud"
	ModeTwoWay       Mode = "two_way"
)

// ApplyMode selects how resolved records are written out.
type ApplyMode string

const (
	// ApplySingle writes each record through the transaction coordinator.
	ApplySingle ApplyMode = "single"
	// ApplyBulk accumulates records into atomic batch chunks.
	ApplyBulk ApplyMode = "bulk"
)

// Retry mirrors the retry.* option block.
type Retry struct {
	MaxAttempts int  `yaml:"max_attempts"`
	BaseDelayMs int  `yaml:"base_delay_ms"`
	MaxDelayMs  int  `yaml:"max_delay_ms"`
	TimeoutMs   int  `yaml:"timeout_ms"`
	Jitter      bool `yaml:"jitter"`
}

// Sync is the recognized sync option block.
type Sync struct {
	FieldRules           map[string]string `yaml:"field_rules"`
	Mode                 Mode              `yaml:"mode"`
	ConflictPolicy       string            `yaml:"conflict_policy"`
	ApplyMode            ApplyMode         `yaml:"apply_mode"`
	FieldRulesDefault    string            `yaml:"field_rules_default"`
	SecondaryKey         string            `yaml:"secondary_key"`
	Retry                Retry             `yaml:"retry"`
	BatchSize            int               `yaml:"batch_size"`
	MaxConcurrentSyncs   int               `yaml:"max_concurrent_syncs"`
	FanOut               int               `yaml:"fan_out"`
	PageSize             int               `yaml:"page_size"`
	ClockSkewToleranceMs int               `yaml:"clock_skew_tolerance_ms"`
	MaxChunkRetries      int               `yaml:"max_chunk_retries"`
	LogResolutions       bool              `yaml:"log_resolutions"`
}

// Stores holds the store adapter locations.
type Stores struct {
	LocalPath string `yaml:"local_path"`
	CloudPath string `yaml:"cloud_path"`
}

// Config is the root configuration document.
type Config struct {
	Sync   Sync   `yaml:"sync"`
	Stores Stores `yaml:"stores"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Sync: Sync{
			Mode:                 ModeTwoWay,
			ConflictPolicy:       resolve.PolicyLastWriteWins,
			ApplyMode:            ApplySingle,
			BatchSize:            25,
			MaxConcurrentSyncs:   4,
			FanOut:               1,
			PageSize:             200,
			ClockSkewToleranceMs: 1000,
			MaxChunkRetries:      2,
			Retry: Retry{
				MaxAttempts: txn.DefaultMaxAttempts,
				BaseDelayMs: 100,
				MaxDelayMs:  5000,
				Jitter:      true,
			},
		},
		Stores: Stores{
			LocalPath: "driftsync-local.db",
			CloudPath: "driftsync-cloud.db",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and non-positive bounds.
func (c *Config) Validate() error {
	switch c.Sync.Mode {
	case ModeCloudToLocal, ModeLocalToCloud, ModeTwoWay:
	default:
		return fmt.Errorf("unknown sync mode %q", c.Sync.Mode)
	}
	switch c.Sync.ApplyMode {
	case ApplySingle, ApplyBulk:
	default:
		return fmt.Errorf("unknown apply mode %q", c.Sync.ApplyMode)
	}
	if c.Sync.BatchSize <= 0 {
		return errors.New("batch_size must be positive")
	}
	if c.Sync.MaxConcurrentSyncs <= 0 {
		return errors.New("max_concurrent_syncs must be positive")
	}
	if c.Sync.FanOut <= 0 {
		return errors.New("fan_out must be positive")
	}
	if c.Sync.PageSize <= 0 {
		return errors.New("page_size must be positive")
	}
	if c.Sync.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}

	// Building the policy exercises the same checks the sync manager relies
	// on, so a misconfigured field table fails here, at startup.
	if _, err := c.Sync.Policy(); err != nil {
		return err
	}
	return nil
}

// RetryOptions converts the retry block for the transaction coordinator.
func (s Sync) RetryOptions() txn.RetryOptions {
	return txn.RetryOptions{
		MaxAttempts: s.Retry.MaxAttempts,
		BaseDelay:   time.Duration(s.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(s.Retry.MaxDelayMs) * time.Millisecond,
		Timeout:     time.Duration(s.Retry.TimeoutMs) * time.Millisecond,
		Jitter:      s.Retry.Jitter,
	}
}

// Policy builds the configured conflict resolution policy.
func (s Sync) Policy() (resolve.Policy, error) {
	return resolve.New(s.ConflictPolicy, resolve.Options{
		SkewTolerance: time.Duration(s.ClockSkewToleranceMs) * time.Millisecond,
		SecondaryKey:  s.SecondaryKey,
		FieldRules:    s.FieldRules,
		FieldDefault:  s.FieldRulesDefault,
	})
}
