// Package config loads and validates cmem-worker's configuration:
// environment variables override the YAML file, which overrides built-in
// defaults (§4.10, §6.5).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the frozen, validated configuration returned by Initialize.
type Config struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	DataDir         string        `yaml:"data_dir"`
	DBPath          string        `yaml:"db_path"`
	Model           string        `yaml:"model"`
	StuckThreshold  time.Duration `yaml:"stuck_threshold"`
	Queue           QueueConfig   `yaml:"queue"`
	Context         ContextConfig `yaml:"context"`
	MaxTokenBudget  int           `yaml:"max_token_budget"`
	APIKeyEnVar     string        `yaml:"api_key_env_var"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	BodySizeLimit   int           `yaml:"body_size_limit_bytes"`
	configDir       string
}

// QueueConfig controls the Queue Engine's polling/retry/stuck tunables (§4.5).
type QueueConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	StuckScanPeriod time.Duration `yaml:"stuck_scan_period"`
	StuckThreshold  time.Duration `yaml:"stuck_threshold"`
	MaxRetries      int           `yaml:"max_retries"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`
	PendingRefill   int           `yaml:"pending_refill"`
}

// ContextConfig controls the Context Builder's budget (§4.7, §9).
type ContextConfig struct {
	MaxTokens       int `yaml:"max_tokens"`
	MaxSessions     int `yaml:"max_sessions"`
	MaxObservations int `yaml:"max_observations"`
}

// modelAllowlist is the set of LLM model names the worker will accept for
// compression/summarization (§4.10).
var modelAllowlist = map[string]bool{
	"claude-3-5-sonnet-latest": true,
	"claude-3-5-haiku-latest":  true,
	"claude-3-opus-latest":     true,
	"claude-sonnet-4-5":        true,
}

// Defaults returns the built-in configuration defaults, mirroring the
// teacher's DefaultQueueConfig pattern (pkg/config/queue.go).
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".cmem")
	return &Config{
		Port:           8765,
		Host:           "127.0.0.1",
		DataDir:        dataDir,
		DBPath:         filepath.Join(dataDir, "cmem.db"),
		Model:          "claude-3-5-sonnet-latest",
		StuckThreshold: 5 * time.Minute,
		Queue: QueueConfig{
			PollInterval:    500 * time.Millisecond,
			StuckScanPeriod: 60 * time.Second,
			StuckThreshold:  5 * time.Minute,
			MaxRetries:      3,
			BaseBackoff:     2 * time.Second,
			PendingRefill:   200,
		},
		Context: ContextConfig{
			MaxTokens:       1800,
			MaxSessions:     5,
			MaxObservations: 40,
		},
		MaxTokenBudget: 1800,
		APIKeyEnVar:    "ANTHROPIC_API_KEY",
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		BodySizeLimit:  100 * 1024,
	}
}

// Initialize loads cmem.yaml from configDir (if present), overlays
// environment variables, applies defaults for anything unset, and
// validates the result. Mirrors the teacher's config.Initialize →
// load → validate pipeline (pkg/config/loader.go), collapsed to this
// worker's much smaller configuration surface.
func Initialize(configDir string) (*Config, error) {
	cfg := Defaults()
	cfg.configDir = configDir

	path := filepath.Join(configDir, "cmem.yaml")
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if fileCfg.MaxTokenBudget != 0 && fileCfg.Context.MaxTokens == 0 {
			fileCfg.Context.MaxTokens = fileCfg.MaxTokenBudget
		}
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigDir returns the directory Initialize was called with.
func (c *Config) ConfigDir() string {
	return c.configDir
}
