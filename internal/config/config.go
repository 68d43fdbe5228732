// Package config handles loading and validation of ledgersync.yaml project
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gco-platform/ledgersync/pkg/types"
)

// Load reads and parses ledgersync.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, "ledgersync.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.baseUrl is required")
	}
	if _, err := Duration(cfg.Upstream.Timeout, 0); err != nil {
		return fmt.Errorf("upstream.timeout: %w", err)
	}
	if _, err := RetryPolicy(cfg.Upstream.Retry); err != nil {
		return err
	}

	if len(cfg.Partitions) == 0 {
		return fmt.Errorf("at least one partition is required")
	}
	seen := map[string]bool{}
	for _, p := range cfg.Partitions {
		if p.ID == "" {
			return fmt.Errorf("partition id is required")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate partition id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Username == "" {
			return fmt.Errorf("partition %q: username is required", p.ID)
		}
		sources := 0
		for _, set := range []bool{p.AccessKey != "", p.AccessKeyEnv != "", p.SecretID != ""} {
			if set {
				sources++
			}
		}
		if sources > 1 {
			return fmt.Errorf("partition %q: accessKey, accessKeyEnv and secretId are mutually exclusive", p.ID)
		}
	}

	switch cfg.Store.Remote {
	case "", "none":
	case "s3":
		if cfg.Store.S3 == nil || cfg.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required when store.remote is s3")
		}
	case "redis":
		if cfg.Store.Redis == nil || cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required when store.remote is redis")
		}
		if _, err := Duration(cfg.Store.Redis.TTL, 0); err != nil {
			return fmt.Errorf("store.redis.ttl: %w", err)
		}
	default:
		return fmt.Errorf("unknown store.remote %q (want s3, redis or none)", cfg.Store.Remote)
	}
	if _, err := Duration(cfg.Store.LocalTTL, 0); err != nil {
		return fmt.Errorf("store.localTtl: %w", err)
	}

	if cfg.Sheet.URL != "" && cfg.Sheet.HeaderRow < 0 {
		return fmt.Errorf("sheet.headerRow must be positive")
	}
	return nil
}

// Duration parses an optional duration string, returning def when empty.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}

// RetryPolicy builds the runtime retry policy from its yaml shape, filling
// defaults for unset fields.
func RetryPolicy(rc types.RetryConfig) (types.RetryPolicy, error) {
	policy := types.DefaultRetryPolicy()
	if rc.MaxAttempts > 0 {
		policy.MaxAttempts = rc.MaxAttempts
	}
	if rc.BackoffMultiplier > 0 {
		policy.Multiplier = rc.BackoffMultiplier
	}
	base, err := Duration(rc.BaseDelay, policy.BaseDelay)
	if err != nil {
		return types.RetryPolicy{}, fmt.Errorf("retry.baseDelay: %w", err)
	}
	policy.BaseDelay = base
	return policy, nil
}
