package config

import (
	"os"
	"strconv"
	"time"
)

// envPrefix namespaces every environment override this worker recognizes.
const envPrefix = "CMEM_"

// applyEnvOverrides overlays environment variables onto cfg, taking priority
// over both the YAML file and the built-in defaults (§4.10, §6.5).
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := lookupEnv("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := lookupEnv("DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := lookupEnv("DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := lookupEnv("MODEL"); ok {
		cfg.Model = v
	}
	if v, ok := lookupEnv("STUCK_THRESHOLD"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StuckThreshold = d
			cfg.Queue.StuckThreshold = d
		}
	}
	if v, ok := lookupEnv("MAX_TOKEN_BUDGET"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTokenBudget = n
			cfg.Context.MaxTokens = n
		}
	}
	if v, ok := lookupEnv("API_KEY_ENV_VAR"); ok {
		cfg.APIKeyEnVar = v
	}
	if v, ok := lookupEnv("RATE_LIMIT_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v, ok := lookupEnv("RATE_LIMIT_BURST"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v, ok := lookupEnv("BODY_SIZE_LIMIT_BYTES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BodySizeLimit = n
		}
	}
	if v, ok := lookupEnv("QUEUE_POLL_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.PollInterval = d
		}
	}
	if v, ok := lookupEnv("QUEUE_STUCK_SCAN_PERIOD"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.StuckScanPeriod = d
		}
	}
	if v, ok := lookupEnv("QUEUE_MAX_RETRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxRetries = n
		}
	}
	if v, ok := lookupEnv("QUEUE_BASE_BACKOFF"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.BaseBackoff = d
		}
	}
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
