package testsupport

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"gateway/internal/adapters/clickhouse"
	"gateway/internal/adapters/config"
)

// ClickHouseConfigFromEnv reads TEST_CLICKHOUSE_*; the test is skipped when the host is unset.
func ClickHouseConfigFromEnv(t *testing.T) config.ClickHouseConfig {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv("TEST_CLICKHOUSE_HOST") == "" {
		t.Skip("integration environment missing, set TEST_CLICKHOUSE_HOST to run")
	}

	return config.ClickHouseConfig{
		Enabled:  true,
		Host:     os.Getenv("TEST_CLICKHOUSE_HOST"),
		Port:     intValue("TEST_CLICKHOUSE_PORT", 9000),
		User:     valueWithDefault("TEST_CLICKHOUSE_USER", "default"),
		Password: os.Getenv("TEST_CLICKHOUSE_PASSWORD"),
		Database: valueWithDefault("TEST_CLICKHOUSE_DB", "default"),
	}
}

// ClickHouseTestHelper owns a connection for integration tests
type ClickHouseTestHelper struct {
	client *clickhouse.Client
	prefix string
}

// NewTestClickHouse connects using TEST_CLICKHOUSE_*. Rows whose user_id starts
// with prefix are removed from usage_events on cleanup.
func NewTestClickHouse(t *testing.T, prefix string) *ClickHouseTestHelper {
	t.Helper()

	cfg := ClickHouseConfigFromEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := clickhouse.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}

	helper := &ClickHouseTestHelper{client: client, prefix: prefix}
	t.Cleanup(func() {
		helper.cleanup()
		_ = client.Close()
	})
	return helper
}

// Client returns the underlying client
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// CountRows counts usage_events rows for a user after merging replicas of the same event
func (h *ClickHouseTestHelper) CountRows(ctx context.Context, userID string) (uint64, error) {
	var count uint64
	row := h.client.Conn().QueryRow(ctx, "SELECT count() FROM usage_events FINAL WHERE user_id = ?", userID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (h *ClickHouseTestHelper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := fmt.Sprintf("ALTER TABLE usage_events DELETE WHERE startsWith(user_id, '%s')", h.prefix)
	_ = h.client.Exec(ctx, query)
}
