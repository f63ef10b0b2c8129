package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPendingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "0003_dir.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := pendingFiles(dir)
	if err != nil {
		t.Fatalf("pendingFiles: %v", err)
	}
	want := []string{"0001_a.up.sql", "0002_b.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPendingFiles_MissingDir(t *testing.T) {
	if _, err := pendingFiles(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestRepositoryMigrations(t *testing.T) {
	got, err := pendingFiles("../../migrations")
	if err != nil {
		t.Fatalf("pendingFiles: %v", err)
	}
	if len(got) == 0 || got[0] != "0001_create_accounts.up.sql" {
		t.Errorf("unexpected migrations %v", got)
	}
}
