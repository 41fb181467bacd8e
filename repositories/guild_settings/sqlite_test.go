package guild_settings

import (
	"context"
	"path/filepath"
	"testing"

	"discord_ai_cogs/databases/sqlite"
	"discord_ai_cogs/entities"
	"discord_ai_cogs/repositories"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()

	db, err := sqlite.New(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "test.sqlite")})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(&Config{DB: db})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	return repo
}

func TestUpsertRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, &entities.GuildSettings{
		GuildID:        "g1",
		Endpoint:       "http://localhost:7860",
		WordsBlacklist: []string{"gore"},
		Width:          832,
		Chat:           entities.ChatSettings{Enabled: true, Channels: []string{"c1"}},
	})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	_, err = repo.Upsert(ctx, &entities.GuildSettings{GuildID: "g1", Endpoint: "http://other:7860", Width: 1216})
	if err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}

	settings, err := repo.GetByGuildID(ctx, "g1")
	if err != nil {
		t.Fatalf("GetByGuildID() error: %v", err)
	}

	if settings.Endpoint != "http://other:7860" || settings.Width != 1216 || settings.GuildID != "g1" {
		t.Errorf("unexpected settings: %+v", settings)
	}
}

func TestGetByGuildIDNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByGuildID(context.Background(), "nope")
	if !repositories.IsNotFound(err) {
		t.Errorf("got %v, want NotFoundError", err)
	}
}

func TestUpsertRequiresGuildID(t *testing.T) {
	repo := newTestRepo(t)

	if _, err := repo.Upsert(context.Background(), &entities.GuildSettings{}); err == nil {
		t.Error("expected an error without a guild ID")
	}
}
