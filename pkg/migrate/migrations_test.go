package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/ordercore/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestMigrationsContainConstraints(t *testing.T) {
	cases := []struct {
		pattern string
		checks  []string
	}{
		{
			pattern: "*_create_products.sql",
			checks: []string{
				"CREATE TABLE IF NOT EXISTS products",
				"CHECK (stock >= 0)",
				"products_marketplace_sku_id_key",
				"DROP TABLE IF EXISTS products",
			},
		},
		{
			pattern: "*_create_orders.sql",
			checks: []string{
				"CREATE TABLE IF NOT EXISTS orders",
				"CONSTRAINT orders_order_number_key UNIQUE (order_number)",
				"idx_orders_status",
				"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
				"DROP TABLE IF EXISTS orders",
			},
		},
		{
			pattern: "*_create_outbox.sql",
			checks: []string{
				"CREATE TABLE IF NOT EXISTS outbox_events",
				"claimed_until timestamptz",
				"WHERE published_at IS NULL",
				"CREATE TABLE IF NOT EXISTS outbox_dlq",
				"payload_json jsonb NOT NULL",
			},
		},
	}

	for _, tc := range cases {
		content := readMigration(t, tc.pattern)
		for _, sub := range tc.checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", tc.pattern, sub)
			}
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Order Notes!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_order_notes.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration invalid: %v", err)
	}
}
