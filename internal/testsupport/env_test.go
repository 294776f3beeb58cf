package testsupport

import "testing"

func TestPostgresConfigFromEnv(t *testing.T) {
	t.Setenv("TEST_POSTGRES_HOST", "localhost")
	t.Setenv("TEST_POSTGRES_USER", "user")
	t.Setenv("TEST_POSTGRES_PASSWORD", "pass")
	t.Setenv("TEST_POSTGRES_DB", "db")
	t.Setenv("TEST_POSTGRES_PORT", "5543")

	cfg := PostgresConfigFromEnv(t)

	if cfg.Host != "localhost" || cfg.Port != 5543 || cfg.SSLMode != "disable" {
		t.Fatalf("unexpected postgres config %+v", cfg)
	}
}

func TestIntValueFallback(t *testing.T) {
	t.Setenv("TEST_SOME_PORT", "not-a-number")
	if got := intValue("TEST_SOME_PORT", 42); got != 42 {
		t.Fatalf("expected fallback 42, got %d", got)
	}
}
