package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsEveryDirectory(t *testing.T) {
	for _, dir := range []string{LocalDir, CentralDir, PostgresDir} {
		// Given: The embedded filesystem
		// When: We read the directory
		entries, err := FS.ReadDir(dir)
		if err != nil {
			t.Fatalf("read %s: %v", dir, err)
		}

		// Then: It holds at least one migration
		if len(entries) == 0 {
			t.Errorf("%s has no migrations", dir)
		}
	}
}

func TestEmbeddedFS_MigrationsHaveGooseDirectives(t *testing.T) {
	files := map[string]string{
		LocalDir + "/00001_local_schema.sql":      "CREATE TABLE settings",
		LocalDir + "/00002_sync_queue.sql":        "CREATE TABLE sync_queue",
		CentralDir + "/00001_central_schema.sql":  "CREATE TABLE remote_records",
		PostgresDir + "/00001_central_schema.sql": "payload JSONB",
	}
	for name, marker := range files {
		content, err := FS.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		s := string(content)
		if !strings.Contains(s, "-- +goose Up") {
			t.Errorf("%s missing '-- +goose Up' directive", name)
		}
		if !strings.Contains(s, "-- +goose Down") {
			t.Errorf("%s missing '-- +goose Down' directive", name)
		}
		if !strings.Contains(s, marker) {
			t.Errorf("%s missing %q", name, marker)
		}
	}
}

func TestEmbeddedFS_LocalSchemaHasEveryEntityTable(t *testing.T) {
	content, err := FS.ReadFile(LocalDir + "/00001_local_schema.sql")
	if err != nil {
		t.Fatalf("read local schema: %v", err)
	}
	for _, table := range []string{
		"systems", "pricing_variables", "costs", "laborers", "chip_blends",
		"jobs", "chip_inventory", "topcoat_inventory", "basecoat_inventory", "misc_inventory",
	} {
		if !strings.Contains(string(content), "CREATE TABLE "+table+" (") {
			t.Errorf("local schema missing table %s", table)
		}
	}
}
