package testsupport

import (
	"os"
	"strconv"
	"testing"

	"gateway/internal/adapters/config"
)

// PostgresConfigFromEnv reads TEST_POSTGRES_* variables. The test is skipped when
// they are missing or when running with -short.
func PostgresConfigFromEnv(t *testing.T) config.PostgresConfig {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	required := []string{"TEST_POSTGRES_HOST", "TEST_POSTGRES_USER", "TEST_POSTGRES_PASSWORD", "TEST_POSTGRES_DB"}
	missing := make([]string, 0)
	for _, key := range required {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		t.Skipf("integration environment missing, set %v to run", missing)
	}

	return config.PostgresConfig{
		Host:     os.Getenv("TEST_POSTGRES_HOST"),
		Port:     intValue("TEST_POSTGRES_PORT", 5432),
		User:     os.Getenv("TEST_POSTGRES_USER"),
		Password: os.Getenv("TEST_POSTGRES_PASSWORD"),
		Database: os.Getenv("TEST_POSTGRES_DB"),
		SSLMode:  valueWithDefault("TEST_POSTGRES_SSL_MODE", "disable"),
		MaxConns: 20,
	}
}

func valueWithDefault(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func intValue(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
