package store

import (
	"io"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil || first != 1 {
		t.Fatalf("expected first version 1, got %d (%v)", first, err)
	}
	next, err := src.Next(first)
	if err != nil || next != 2 {
		t.Fatalf("expected version 2 after 1, got %d (%v)", next, err)
	}

	up, _, err := src.ReadUp(first)
	if err != nil {
		t.Fatal(err)
	}
	defer up.Close()
	body, err := io.ReadAll(up)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) == 0 {
		t.Fatal("initial migration is empty")
	}
	if _, _, err := src.ReadDown(first); err != nil {
		t.Fatalf("expected a down migration for version 1: %v", err)
	}
}

func TestMigrationURL(t *testing.T) {
	tests := map[string]string{
		"postgres://kayan:pw@db:5432/kayan?sslmode=disable": "pgx5://kayan:pw@db:5432/kayan?sslmode=disable",
		"postgresql://db/kayan":                             "pgx5://db/kayan",
		"pgx5://db/kayan":                                   "pgx5://db/kayan",
	}
	for in, want := range tests {
		if got := migrationURL(in); got != want {
			t.Errorf("migrationURL(%q) = %q, want %q", in, got, want)
		}
	}
}
