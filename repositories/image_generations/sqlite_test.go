package image_generations

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

func TestCreateAndGetByMessage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &entities.ImageRecord{
		MessageID:  "m1",
		ChannelID:  "c1",
		GuildID:    "g1",
		MemberID:   "u1",
		Prompt:     "a cat",
		Seed:       42,
		InfoString: "a cat\nSteps: 20, Seed: 42",
		Extension:  "png",
		NSFW:       true,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if created.ID == 0 {
		t.Error("expected an ID to be assigned")
	}

	found, err := repo.GetByMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetByMessage() error: %v", err)
	}

	if found.Prompt != "a cat" || found.Seed != 42 || !found.NSFW || found.InfoString != created.InfoString {
		t.Errorf("unexpected record: %+v", found)
	}
}

func TestGetByMessageNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByMessage(context.Background(), "missing")
	if !repositories.IsNotFound(err) {
		t.Errorf("got %v, want NotFoundError", err)
	}
}

func TestNewRepositoryRequiresDB(t *testing.T) {
	if _, err := NewRepository(&Config{}); err == nil {
		t.Error("expected an error without a DB")
	}
}
