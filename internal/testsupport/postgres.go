package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"gateway/internal/adapters/postgres"
)

// PostgresTestHelper owns a migrated connection for integration tests. Rows written
// under the helper's user prefix are deleted on cleanup.
type PostgresTestHelper struct {
	client *postgres.Client
	prefix string
}

// NewTestPostgres connects using TEST_POSTGRES_* and applies migrations.
// prefix should be unique per test (a uuid works) and used for every user_id/session_id written.
func NewTestPostgres(t *testing.T, prefix string) *PostgresTestHelper {
	t.Helper()

	cfg := PostgresConfigFromEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create postgres client: %v", err)
	}
	if _, err := postgres.Migrate(ctx, client.DB()); err != nil {
		_ = client.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	helper := &PostgresTestHelper{client: client, prefix: prefix}
	t.Cleanup(func() {
		helper.cleanup()
		_ = client.Close()
	})
	return helper
}

// DB returns the underlying database handle.
func (h *PostgresTestHelper) DB() *sqlx.DB {
	return h.client.DB()
}

func (h *PostgresTestHelper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	like := h.prefix + "%"
	_, _ = h.DB().ExecContext(ctx, `DELETE FROM session_usage WHERE session_id LIKE $1 OR user_id LIKE $1`, like)
	_, _ = h.DB().ExecContext(ctx, `DELETE FROM daily_usage WHERE user_id LIKE $1`, like)
	_, _ = h.DB().ExecContext(ctx, `DELETE FROM monthly_usage WHERE user_id LIKE $1`, like)
}
