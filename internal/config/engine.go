package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EngineConfig struct {
	StoreTimeout     time.Duration
	CascadeBatchSize int
	OTPTimeout       time.Duration
	OTPLength        int
	ListLimit        int
	AccessCodeLength int
}

func LoadEngineConfig() *EngineConfig {
	return &EngineConfig{
		StoreTimeout:     getEnvAsDuration("ENGINE_STORE_TIMEOUT", 10*time.Second),
		CascadeBatchSize: getEnvAsInt("ENGINE_CASCADE_BATCH_SIZE", 250),
		OTPTimeout:       getEnvAsDuration("ENGINE_OTP_TIMEOUT", 10*time.Minute),
		OTPLength:        getEnvAsInt("ENGINE_OTP_LENGTH", 6),
		ListLimit:        getEnvAsInt("ENGINE_LIST_LIMIT", 100),
		AccessCodeLength: getEnvAsInt("ENGINE_ACCESS_CODE_LENGTH", 8),
	}
}

// LoadAdminWhitelist parses ADMIN_WHITELIST, a comma-separated list of
// "<phone>:<name>" pairs, into a normalized-phone -> admin-name map. The
// whitelist is injected into the identity directory at construction so tests
// can pass fixtures instead of a compiled-in global.
func LoadAdminWhitelist() map[string]string {
	whitelist := make(map[string]string)
	raw := getEnv("ADMIN_WHITELIST", "")
	if raw == "" {
		return whitelist
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		phone := digitsOnly(parts[0])
		if phone == "" {
			continue
		}
		whitelist[phone] = strings.TrimSpace(parts[1])
	}
	return whitelist
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
