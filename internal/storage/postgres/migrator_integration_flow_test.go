package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	assertStatus := func(step string, wantVersion int64, wantCount int) {
		t.Helper()
		version, count, err := store.MigrationStatus(ctx)
		if err != nil {
			t.Fatalf("%s: migration status: %v", step, err)
		}
		if version != wantVersion || count != wantCount {
			t.Fatalf("%s: expected version=%d count=%d, got version=%d count=%d", step, wantVersion, wantCount, version, count)
		}
	}

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	assertStatus("reset", 0, 0)

	if err := store.MigrateUp(ctx, 1); err != nil {
		t.Fatalf("migrate up one: %v", err)
	}
	assertStatus("up one", 1, 1)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	assertStatus("up all", 2, 2)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("repeated migrate up: %v", err)
	}
	assertStatus("repeated up", 2, 2)

	var hasCheck bool
	err := store.DB().QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.check_constraints
			WHERE check_clause LIKE '%stock >= 0%'
		)`).Scan(&hasCheck)
	if err != nil {
		t.Fatalf("inspect constraints: %v", err)
	}
	if !hasCheck {
		t.Fatal("products.stock must carry a non-negative check")
	}

	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	assertStatus("down default", 1, 1)

	if err := store.MigrateDown(ctx, 5); err != nil {
		t.Fatalf("migrate down rest: %v", err)
	}
	assertStatus("down rest", 0, 0)

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down on empty schema must be a no-op: %v", err)
	}
}

func TestMigrator_Guards(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := nilStore.MigrateUp(ctx, 0); err == nil {
		t.Fatal("expected error for nil store MigrateUp")
	}
	if err := nilStore.MigrateDown(ctx, 1); err == nil {
		t.Fatal("expected error for nil store MigrateDown")
	}
	if _, _, err := nilStore.MigrationStatus(ctx); err == nil {
		t.Fatal("expected error for nil store MigrationStatus")
	}

	db, err := sql.Open("pgx", "postgres://unused@127.0.0.1:1/unused")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	store := &Store{db: db, pingTimeout: time.Second}
	if err := store.migrate(ctx, migrationDirection("sideways"), 0); err == nil || !strings.Contains(err.Error(), "unsupported migration direction") {
		t.Fatalf("expected unsupported direction error, got %v", err)
	}
}
