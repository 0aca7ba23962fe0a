package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	integrations "github.com/goliatone/go-integrations"
	_ "github.com/mattn/go-sqlite3"
)

func TestSources_LoadsBothDialectsWithMatchingVersions(t *testing.T) {
	sources, err := Sources(nil)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	want := []string{"00001_integrations_core", "00002_integrations_consent_audit"}
	for _, source := range sources {
		if strings.Join(source.Versions, ",") != strings.Join(want, ",") {
			t.Fatalf("unexpected %s versions: %v", source.Dialect, source.Versions)
		}
	}
	if sources[0].Dialect != DialectPostgres || sources[1].Dialect != DialectSQLite {
		t.Fatalf("unexpected dialect order: %s, %s", sources[0].Dialect, sources[1].Dialect)
	}
}

func TestSources_RejectsMissingDownMigration(t *testing.T) {
	root := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":        {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00001_a.down.sql":      {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := Sources(root); err == nil || !strings.Contains(err.Error(), "no down migration") {
		t.Fatalf("expected missing down migration error, got %v", err)
	}
}

func TestSources_RejectsDialectDrift(t *testing.T) {
	root := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00001_a.down.sql":        {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00002_b.up.sql":          {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00002_b.down.sql":        {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.down.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := Sources(root); err == nil || !strings.Contains(err.Error(), "versions differ") {
		t.Fatalf("expected dialect drift error, got %v", err)
	}
}

func TestRegister_HonorsDialectSelection(t *testing.T) {
	var calls []string
	var labels []string
	registered, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		calls = append(calls, dialect)
		labels = append(labels, label)
		return nil
	}, WithDialects("sqlite3"), WithSourceLabel("app-integrations"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite {
		t.Fatalf("expected only sqlite registration, got %v", calls)
	}
	if labels[0] != "app-integrations" {
		t.Fatalf("expected custom source label, got %q", labels[0])
	}
	if len(registered) != 1 || registered[0].Dialect != DialectSQLite {
		t.Fatalf("unexpected registered sources: %+v", registered)
	}

	if _, err := Register(context.Background(), func(context.Context, string, string, fs.FS) error {
		return nil
	}, WithDialects("mysql")); err == nil {
		t.Fatalf("expected unknown dialect to register nothing and fail")
	}
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected nil register function to fail")
	}
}

func TestMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := integrations.GetMigrationsFS()
	names := []string{
		"00001_integrations_core",
		"00002_integrations_consent_audit",
	}
	for _, name := range names {
		paths := []string{
			"data/sql/migrations/" + name + ".up.sql",
			"data/sql/migrations/" + name + ".down.sql",
			"data/sql/migrations/sqlite/" + name + ".up.sql",
			"data/sql/migrations/sqlite/" + name + ".down.sql",
		}
		for _, migrationPath := range paths {
			content, err := fs.ReadFile(root, migrationPath)
			if err != nil {
				t.Fatalf("read migration %s: %v", migrationPath, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				t.Fatalf("expected migration %s to have SQL content", migrationPath)
			}
		}
	}
}

func TestSQLiteActiveIntegrationIndex_RejectsSecondActiveRow(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-active-integration?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(integrations.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	for _, migration := range []string{
		"00001_integrations_core.up.sql",
		"00002_integrations_consent_audit.up.sql",
	} {
		if err := execSQLMigration(ctx, db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	insert := `INSERT INTO integrations (id, user_id, provider_id, status) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "int-1", "user-1", "notion", "active"); err != nil {
		t.Fatalf("insert first active row: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "int-2", "user-1", "notion", "revoked"); err != nil {
		t.Fatalf("insert revoked row: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "int-3", "user-1", "notion", "active"); err == nil {
		t.Fatalf("expected second active row for the same user and provider to fail")
	}
	if _, err := db.ExecContext(ctx, insert, "int-4", "user-2", "notion", "active"); err != nil {
		t.Fatalf("insert active row for another user: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "int-5", "user-1", "notion", "connected"); err == nil {
		t.Fatalf("expected unknown status to violate the status check")
	}

	for _, migration := range []string{
		"00002_integrations_consent_audit.down.sql",
		"00001_integrations_core.down.sql",
	} {
		if err := execSQLMigration(ctx, db, sqliteMigrations, migration); err != nil {
			t.Fatalf("rollback migration %s: %v", migration, err)
		}
	}
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'integration%'`,
	).Scan(&count); err != nil {
		t.Fatalf("count tables after rollback: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to drop every table, found %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
