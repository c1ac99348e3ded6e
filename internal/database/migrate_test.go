// Package database provides connection setup for MariaDB and Redis.
// This file validates migration SQL files to catch schema mistakes early.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

// requiredTables are the tables the repositories query. Each must be
// created by some up migration and dropped by its matching down migration.
var requiredTables = []string{
	"users",
	"api_keys",
	"oauth_tokens",
	"plugin_api_keys",
	"auth_events",
}

// migrationName matches golang-migrate file names: 000001_name.up.sql.
var migrationName = regexp.MustCompile(`^(\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// migrationsDir returns the absolute path to db/migrations/ from the project root.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	// thisFile is internal/database/migrate_test.go, project root is two dirs up.
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")
	dir := filepath.Join(projectRoot, "db", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}

// TestMigrations_Paired checks that every migration has both an up and a
// down file, that names follow the golang-migrate convention, and that
// versions are contiguous from 1.
func TestMigrations_Paired(t *testing.T) {
	dir := migrationsDir(t)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading migrations dir: %v", err)
	}

	type pair struct{ up, down bool }
	versions := map[string]*pair{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationName.FindStringSubmatch(e.Name())
		if m == nil {
			t.Errorf("%s does not match NNNNNN_name.(up|down).sql", e.Name())
			continue
		}
		p, ok := versions[m[1]]
		if !ok {
			p = &pair{}
			versions[m[1]] = p
		}
		if m[3] == "up" {
			p.up = true
		} else {
			p.down = true
		}
	}

	if len(versions) == 0 {
		t.Fatal("no migration files found")
	}
	for i := 1; i <= len(versions); i++ {
		v := fmt.Sprintf("%06d", i)
		p, ok := versions[v]
		if !ok {
			t.Errorf("missing migration version %s", v)
			continue
		}
		if !p.up || !p.down {
			t.Errorf("migration %s: up=%v down=%v, want both", v, p.up, p.down)
		}
	}
}

// TestMigrations_RequiredTables checks that each table the repositories
// depend on is created by an up migration and dropped by a down migration.
func TestMigrations_RequiredTables(t *testing.T) {
	dir := migrationsDir(t)
	up := readAll(t, filepath.Join(dir, "*.up.sql"))
	down := readAll(t, filepath.Join(dir, "*.down.sql"))

	for _, table := range requiredTables {
		create := regexp.MustCompile(`(?i)CREATE TABLE (IF NOT EXISTS )?` + table + `\s*\(`)
		if !create.MatchString(up) {
			t.Errorf("no up migration creates table %s", table)
		}
		drop := regexp.MustCompile(`(?i)DROP TABLE (IF EXISTS )?` + table + `\s*;`)
		if !drop.MatchString(down) {
			t.Errorf("no down migration drops table %s", table)
		}
	}
}

// TestMigrations_UniqueLookupColumns guards the columns the code relies on
// being unique: upserts on user_id and key lookups by hash.
func TestMigrations_UniqueLookupColumns(t *testing.T) {
	up := readAll(t, filepath.Join(migrationsDir(t), "*.up.sql"))

	for _, want := range []string{
		"UNIQUE KEY uq_users_username (username)",
		"UNIQUE KEY uq_users_oauth_id (oauth_id)",
		"UNIQUE KEY uq_api_keys_hash (key_hash)",
		"UNIQUE KEY uq_oauth_tokens_user (user_id)",
		"UNIQUE KEY uq_plugin_api_keys_user (user_id)",
	} {
		if !strings.Contains(up, want) {
			t.Errorf("up migrations missing %q", want)
		}
	}
}

// TestMigrations_RefreshBackoffColumns guards the columns the token
// refresher reads to skip records that keep failing.
func TestMigrations_RefreshBackoffColumns(t *testing.T) {
	dir := migrationsDir(t)
	up := readAll(t, filepath.Join(dir, "*.up.sql"))
	down := readAll(t, filepath.Join(dir, "*.down.sql"))

	for _, col := range []string{"refresh_failures", "next_refresh_at"} {
		if !strings.Contains(up, "ADD COLUMN "+col) {
			t.Errorf("up migrations do not add oauth_tokens.%s", col)
		}
		if !strings.Contains(down, "DROP COLUMN "+col) {
			t.Errorf("down migrations do not drop oauth_tokens.%s", col)
		}
	}
}

func readAll(t *testing.T, pattern string) string {
	t.Helper()
	files, err := filepath.Glob(pattern)
	if err != nil {
		t.Fatalf("globbing %s: %v", pattern, err)
	}
	var sb strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading %s: %v", f, err)
		}
		sb.Write(data)
		sb.WriteByte('\n')
	}
	return sb.String()
}
