package testsupport

import "testing"

func TestClickHouseConfigFromEnv(t *testing.T) {
	t.Setenv("TEST_CLICKHOUSE_HOST", "ch")
	t.Setenv("TEST_CLICKHOUSE_PORT", "9440")

	cfg := ClickHouseConfigFromEnv(t)
	if cfg.Host != "ch" || cfg.Port != 9440 || cfg.User != "default" || !cfg.Enabled {
		t.Fatalf("unexpected clickhouse config %+v", cfg)
	}
}
