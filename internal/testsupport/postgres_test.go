package testsupport

import (
	"context"
	"testing"
)

func TestNewTestPostgresMigrates(t *testing.T) {
	helper := NewTestPostgres(t, "testsupport-")

	for _, table := range []string{"session_usage", "daily_usage", "monthly_usage", "schema_migrations"} {
		var exists bool
		err := helper.DB().GetContext(context.Background(), &exists,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Fatalf("expected table %s to exist after migration", table)
		}
	}
}
