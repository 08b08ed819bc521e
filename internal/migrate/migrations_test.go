package migrate_test

import (
	"testing"

	"signoff/internal/db"
	"signoff/internal/migrate"
)

func TestMigrateFreshAndRepeat(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if n == 0 {
		t.Fatalf("no migrations recorded")
	}
	// a second run is a no-op, not a re-apply
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("repeat migrate: %v", err)
	}
	var again int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&again); err != nil {
		t.Fatal(err)
	}
	if again != n {
		t.Fatalf("ledger grew on repeat: %d -> %d", n, again)
	}
	if _, err := conn.Exec(`INSERT INTO sites(id, name, base_url, created_at) VALUES ('s1','','','2026-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("schema incomplete: %v", err)
	}
}
