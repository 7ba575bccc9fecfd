package migrations_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/kyleqd/sitemap/internal/database"
	"github.com/kyleqd/sitemap/internal/migrations"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db, quiet()); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	for _, table := range []string{"site_maps", "change_log", "versions", "current_versions", "tasks"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db, quiet()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := migrations.Version(ctx, db)
	if err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if first < 1 {
		t.Fatalf("version = %d after migrating", first)
	}

	if err := migrations.Run(ctx, db, quiet()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := migrations.Version(ctx, db)
	if err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if second != first {
		t.Errorf("version moved from %d to %d on a no-op run", first, second)
	}
}
