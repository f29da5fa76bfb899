// Package config holds the run-wide configuration record. Values resolve
// with the precedence: SF_BENCH_* environment variables > config file >
// built-in defaults. The package-level singleton is one of the two pieces of
// documented global state (the other is the org-creation mutex).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Default timeout values, in seconds.
const (
	DefaultTimeoutSetup = 600
	DefaultTimeoutRun   = 300
	DefaultTimeoutPatch = 60
	DefaultTimeoutGit   = 300
	DefaultTimeoutAPI   = 120
)

// Default retry and pool settings.
const (
	DefaultMaxRetries      = 3
	DefaultInitialDelaySec = 2.0
	DefaultMaxWorkers      = 3
	DefaultPoolConnections = 10
	DefaultPoolMaxSize     = 20
	DefaultRateLimitPerMin = 60
)

// EnvPrefix is prepended to upper-cased keys for environment overrides,
// e.g. timeout_run -> SF_BENCH_TIMEOUT_RUN.
const EnvPrefix = "SF_BENCH_"

// Config resolves configuration values. It is read-only after Load.
type Config struct {
	fileValues map[string]interface{}
}

// Load reads an optional config file (YAML or JSON by extension). A missing
// path yields a config that serves env overrides and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{fileValues: map[string]interface{}{}}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg.fileValues); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg.fileValues); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// GetString resolves a string value for key.
func (c *Config) GetString(key, def string) string {
	if v, ok := c.envValue(key); ok {
		return v
	}
	if v, ok := c.fileValues[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// GetInt resolves an integer value for key. Unparseable env values fall
// through to the file value or default.
func (c *Config) GetInt(key string, def int) int {
	if v, ok := c.envValue(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "warning: could not convert %s%s=%q to int, using fallback\n", EnvPrefix, strings.ToUpper(key), v)
	}
	if v, ok := c.fileValues[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

// GetFloat resolves a float value for key.
func (c *Config) GetFloat(key string, def float64) float64 {
	if v, ok := c.envValue(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		fmt.Fprintf(os.Stderr, "warning: could not convert %s%s=%q to float, using fallback\n", EnvPrefix, strings.ToUpper(key), v)
	}
	if v, ok := c.fileValues[key]; ok {
		switch f := v.(type) {
		case float64:
			return f
		case int:
			return float64(f)
		}
	}
	return def
}

// GetBool resolves a boolean value for key. Env values accept
// true/1/yes/on (case-insensitive).
func (c *Config) GetBool(key string, def bool) bool {
	if v, ok := c.envValue(key); ok {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		default:
			return false
		}
	}
	if v, ok := c.fileValues[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (c *Config) envValue(key string) (string, bool) {
	return os.LookupEnv(EnvPrefix + strings.ToUpper(key))
}

// timeoutMultiplier scales every timeout, for slow CI environments.
func (c *Config) timeoutMultiplier() float64 {
	m := c.GetFloat("timeout_multiplier", 1.0)
	if m <= 0 {
		return 1.0
	}
	return m
}

func (c *Config) scaledTimeout(key string, def int) int {
	return int(float64(c.GetInt(key, def)) * c.timeoutMultiplier())
}

// TimeoutSetup is the budget for setup phases (org creation, deployment).
func (c *Config) TimeoutSetup() int { return c.scaledTimeout("timeout_setup", DefaultTimeoutSetup) }

// TimeoutRun is the budget for execution phases (test runs, validation).
func (c *Config) TimeoutRun() int { return c.scaledTimeout("timeout_run", DefaultTimeoutRun) }

// TimeoutPatch is the per-strategy budget for patch application.
func (c *Config) TimeoutPatch() int { return c.scaledTimeout("timeout_patch", DefaultTimeoutPatch) }

// TimeoutGit is the budget for clone and checkout.
func (c *Config) TimeoutGit() int { return c.scaledTimeout("timeout_git", DefaultTimeoutGit) }

// TimeoutAPI is the budget for patch-producer API calls.
func (c *Config) TimeoutAPI() int { return c.scaledTimeout("timeout_api", DefaultTimeoutAPI) }

// MaxRetries is the attempt cap for transient failures.
func (c *Config) MaxRetries() int { return c.GetInt("max_retries", DefaultMaxRetries) }

// InitialDelay is the first backoff delay, in seconds.
func (c *Config) InitialDelay() float64 { return c.GetFloat("initial_delay", DefaultInitialDelaySec) }

// MaxWorkers bounds the scheduler's worker pool.
func (c *Config) MaxWorkers() int { return c.GetInt("max_workers", DefaultMaxWorkers) }

// PoolConnections / PoolMaxSize size the HTTP connection pool for
// API-backed patch producers.
func (c *Config) PoolConnections() int { return c.GetInt("pool_connections", DefaultPoolConnections) }
func (c *Config) PoolMaxSize() int     { return c.GetInt("pool_maxsize", DefaultPoolMaxSize) }

// RateLimitPerMinute caps patch-producer calls per agent.
func (c *Config) RateLimitPerMinute() int {
	return c.GetInt("rate_limit_per_minute", DefaultRateLimitPerMin)
}

// Deterministic reports whether producers should run with temperature 0 and
// a fixed seed.
func (c *Config) Deterministic() bool { return c.GetBool("deterministic", false) }

// Seed returns the configured random seed, or -1 when unset.
func (c *Config) Seed() int { return c.GetInt("seed", -1) }

// Snapshot returns the resolved knobs as a plain map, for inclusion in the
// report's config block and the evaluation provenance hash.
func (c *Config) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"timeout_setup":         c.TimeoutSetup(),
		"timeout_run":           c.TimeoutRun(),
		"timeout_patch":         c.TimeoutPatch(),
		"timeout_git":           c.TimeoutGit(),
		"timeout_api":           c.TimeoutAPI(),
		"max_retries":           c.MaxRetries(),
		"initial_delay":         c.InitialDelay(),
		"max_workers":           c.MaxWorkers(),
		"rate_limit_per_minute": c.RateLimitPerMinute(),
		"deterministic":         c.Deterministic(),
		"seed":                  c.Seed(),
	}
}

var (
	globalMu     sync.Mutex
	globalConfig *Config
)

// Get returns the global configuration, initializing an empty one on first
// use if Set was never called.
func Get() *Config {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalConfig == nil {
		globalConfig = &Config{fileValues: map[string]interface{}{}}
	}
	return globalConfig
}

// Set installs the global configuration. Called once at startup.
func Set(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}
