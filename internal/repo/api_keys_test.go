package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/migrate"
	"signoff/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestAPIKeyWithoutName(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	raw := "raw-key-1"
	key := domain.APIKey{
		ID:        "k1",
		ActorID:   "alice",
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	// no label is the CLI default and must not trip the schema
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert unnamed key: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.ID != "k1" || got.ActorID != "alice" || got.Name != "" {
		t.Fatalf("round trip: %+v", got)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, actor := range []string{"alice", "alice", "bob"} {
		key := domain.APIKey{
			ID:        "k" + string(rune('1'+i)),
			ActorID:   actor,
			Name:      "ci",
			KeyHash:   repo.HashAPIKey("raw" + string(rune('1'+i))),
			CreatedAt: now.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		}
		if err := r.InsertAPIKey(ctx, nil, key); err != nil {
			t.Fatalf("insert %s: %v", key.ID, err)
		}
	}
	keys, err := r.ListAPIKeys(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0].ID != "k2" {
		t.Fatalf("alice keys newest first, got %+v", keys)
	}
	if err := r.DeleteAPIKey(ctx, "k2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("raw2")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted key must not resolve, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("double delete should report ErrNotFound, got %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("nope")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown hash: %v", err)
	}
}
