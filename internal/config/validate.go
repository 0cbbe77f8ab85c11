package config

import (
	"fmt"
	"log/slog"
)

// validate runs every ordered validation check against cfg, mirroring the
// teacher's Validator.ValidateAll pattern (pkg/config/validator.go): each
// sub-check is a small function wrapped in a descriptive error, called in a
// fixed dependency order so the earliest structural problem surfaces first.
func validate(cfg *Config) error {
	checks := []struct {
		name string
		fn   func(*Config) error
	}{
		{"port", validatePort},
		{"host", validateHost},
		{"model", validateModel},
		{"token budget", validateTokenBudget},
		{"queue", validateQueue},
		{"rate limit", validateRateLimit},
		{"paths", validatePaths},
	}

	for _, c := range checks {
		if err := c.fn(cfg); err != nil {
			return fmt.Errorf("%s validation failed: %w", c.name, err)
		}
	}
	return nil
}

func validatePort(cfg *Config) error {
	if cfg.Port < 1024 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range [1024, 65535]", cfg.Port)
	}
	return nil
}

func validateHost(cfg *Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if cfg.Host == "0.0.0.0" {
		slog.Warn("binding to 0.0.0.0 exposes the worker beyond localhost; §4.9 expects a localhost-only surface", "host", cfg.Host)
	}
	return nil
}

func validateModel(cfg *Config) error {
	if cfg.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if !modelAllowlist[cfg.Model] {
		return fmt.Errorf("model %q is not in the allowlist", cfg.Model)
	}
	return nil
}

func validateTokenBudget(cfg *Config) error {
	if cfg.MaxTokenBudget < 1 {
		return fmt.Errorf("max_token_budget must be >= 1, got %d", cfg.MaxTokenBudget)
	}
	if cfg.MaxTokenBudget > 4000 {
		return fmt.Errorf("max_token_budget %d exceeds the configurable ceiling of 4000", cfg.MaxTokenBudget)
	}
	if cfg.Context.MaxTokens < 1 {
		return fmt.Errorf("context.max_tokens must be >= 1, got %d", cfg.Context.MaxTokens)
	}
	if cfg.Context.MaxSessions < 1 {
		return fmt.Errorf("context.max_sessions must be >= 1, got %d", cfg.Context.MaxSessions)
	}
	if cfg.Context.MaxObservations < 1 {
		return fmt.Errorf("context.max_observations must be >= 1, got %d", cfg.Context.MaxObservations)
	}
	return nil
}

func validateQueue(cfg *Config) error {
	q := cfg.Queue
	if q.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be > 0, got %s", q.PollInterval)
	}
	if q.StuckScanPeriod <= 0 {
		return fmt.Errorf("queue.stuck_scan_period must be > 0, got %s", q.StuckScanPeriod)
	}
	if q.StuckThreshold <= 0 {
		return fmt.Errorf("queue.stuck_threshold must be > 0, got %s", q.StuckThreshold)
	}
	if q.StuckThreshold <= q.StuckScanPeriod {
		return fmt.Errorf("queue.stuck_threshold (%s) must be greater than queue.stuck_scan_period (%s)", q.StuckThreshold, q.StuckScanPeriod)
	}
	if q.MaxRetries < 0 || q.MaxRetries > 10 {
		return fmt.Errorf("queue.max_retries %d out of range [0, 10]", q.MaxRetries)
	}
	if q.BaseBackoff <= 0 {
		return fmt.Errorf("queue.base_backoff must be > 0, got %s", q.BaseBackoff)
	}
	if q.PendingRefill < 1 {
		return fmt.Errorf("queue.pending_refill must be >= 1, got %d", q.PendingRefill)
	}
	return nil
}

func validateRateLimit(cfg *Config) error {
	if cfg.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be > 0, got %f", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst < 1 {
		return fmt.Errorf("rate_limit_burst must be >= 1, got %d", cfg.RateLimitBurst)
	}
	if cfg.BodySizeLimit < 1024 {
		return fmt.Errorf("body_size_limit_bytes must be >= 1024, got %d", cfg.BodySizeLimit)
	}
	return nil
}

func validatePaths(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	return nil
}
