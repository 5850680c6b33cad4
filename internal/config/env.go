// Package config handles environment-based configuration loading for the engine.
package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds all environment-variable-driven settings. The engine has no
// hot-reloadable configuration: everything is read once at startup.
type EnvConfig struct {
	// Network
	Port            int
	APIMaxBodyBytes int

	// Auth
	EngineSecret      string
	AllowedBackendIPs []string

	// Flags
	FlagSecret string

	// Control plane
	BackendURL string

	// Capacity
	MaxConcurrentMatches int
	FlagSubmitRateMax    int

	// Scheduling
	TickInterval       time.Duration
	ProbeTimeout       time.Duration
	ProvisionDeadline  time.Duration
	RequestTimeout     time.Duration
	SafetyCronInterval time.Duration

	// Safety thresholds
	MaxContainerAge  time.Duration
	MaxMatchDuration time.Duration
}

// MinFlagSecretBytes is the minimum accepted length of FLAG_SECRET.
const MinFlagSecretBytes = 16

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Network ---
	cfg.Port = envInt("PORT", 7000, &errs)
	cfg.APIMaxBodyBytes = envInt("API_MAX_BODY_BYTES", 50<<10, &errs)

	// --- Auth ---
	cfg.EngineSecret = os.Getenv("MATCH_ENGINE_SECRET")
	cfg.AllowedBackendIPs = envCommaList("ALLOWED_BACKEND_IPS")

	// --- Flags ---
	cfg.FlagSecret = os.Getenv("FLAG_SECRET")

	// --- Control plane ---
	cfg.BackendURL = strings.TrimRight(envStr("BACKEND_URL", "http://localhost:3000"), "/")

	// --- Capacity ---
	cfg.MaxConcurrentMatches = envInt("MAX_CONCURRENT_MATCHES", 50, &errs)
	cfg.FlagSubmitRateMax = envInt("FLAG_SUBMIT_RATE_MAX", 30, &errs)

	// --- Scheduling ---
	cfg.TickInterval = envMillis("TICK_INTERVAL_MS", 30*time.Second, &errs)
	cfg.ProbeTimeout = envMillis("PROBE_TIMEOUT_MS", 5*time.Second, &errs)
	cfg.ProvisionDeadline = envMillis("PROVISION_DEADLINE_MS", 5*time.Minute, &errs)
	cfg.RequestTimeout = envMillis("HTTP_REQUEST_TIMEOUT_MS", 5*time.Second, &errs)
	cfg.SafetyCronInterval = envMillis("SAFETY_CRON_INTERVAL_MS", 45*time.Minute, &errs)

	// --- Safety thresholds ---
	cfg.MaxContainerAge = time.Duration(envInt("MAX_CONTAINER_AGE_HOURS", 4, &errs)) * time.Hour
	cfg.MaxMatchDuration = time.Duration(envInt("MAX_MATCH_DURATION_HOURS", 3, &errs)) * time.Hour

	// --- Validation ---
	if cfg.EngineSecret == "" {
		errs = append(errs, "MATCH_ENGINE_SECRET must be defined and non-empty")
	} else if IsWeakSecret(cfg.EngineSecret) {
		log.Printf("config: MATCH_ENGINE_SECRET is weak; use a long random value")
	}
	if len(cfg.FlagSecret) < MinFlagSecretBytes {
		errs = append(errs, fmt.Sprintf("FLAG_SECRET must be at least %d bytes", MinFlagSecretBytes))
	}
	for _, ip := range cfg.AllowedBackendIPs {
		if net.ParseIP(ip) == nil {
			errs = append(errs, fmt.Sprintf("ALLOWED_BACKEND_IPS: invalid IP %q", ip))
		}
	}

	validatePort("PORT", cfg.Port, &errs)
	validatePositive("API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	validatePositive("MAX_CONCURRENT_MATCHES", cfg.MaxConcurrentMatches, &errs)
	validatePositive("FLAG_SUBMIT_RATE_MAX", cfg.FlagSubmitRateMax, &errs)

	if cfg.TickInterval <= 0 {
		errs = append(errs, "TICK_INTERVAL_MS must be positive")
	}
	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, "PROBE_TIMEOUT_MS must be positive")
	}
	if cfg.ProvisionDeadline <= 0 {
		errs = append(errs, "PROVISION_DEADLINE_MS must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, "HTTP_REQUEST_TIMEOUT_MS must be positive")
	}
	if cfg.SafetyCronInterval <= 0 {
		errs = append(errs, "SAFETY_CRON_INTERVAL_MS must be positive")
	}
	if cfg.MaxContainerAge <= 0 {
		errs = append(errs, "MAX_CONTAINER_AGE_HOURS must be positive")
	}
	if cfg.MaxMatchDuration <= 0 {
		errs = append(errs, "MAX_MATCH_DURATION_HOURS must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envMillis(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: invalid millisecond count %q", key, v))
		return defaultVal
	}
	return time.Duration(n) * time.Millisecond
}

func envCommaList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validatePort(key string, port int, errs *[]string) {
	if port < 1 || port > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: must be in range 1-65535", key))
	}
}

func validatePositive(key string, n int, errs *[]string) {
	if n <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be positive", key))
	}
}
