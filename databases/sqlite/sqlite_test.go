package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestNewAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.sqlite")

	db, err := New(context.Background(), Config{Path: path, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"guild_settings", "image_generations"} {
		var name string

		err = db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestNewIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.sqlite")

	first, err := New(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("first New() error: %v", err)
	}
	first.Close()

	second, err := New(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("second New() error: %v", err)
	}
	second.Close()
}

func TestDBFilenameDefault(t *testing.T) {
	filename, err := DBFilename("")
	if err != nil {
		t.Fatalf("DBFilename() error: %v", err)
	}

	if filepath.Base(filename) != DefaultDBFile {
		t.Errorf("got %s, want base %s", filename, DefaultDBFile)
	}
}
