package image_scanner

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"discord_ai_cogs/databases/sqlite"
	"discord_ai_cogs/entities"
	"discord_ai_cogs/repositories/image_generations"
)

func newTestScanner(t *testing.T, channels ...string) Scanner {
	t.Helper()

	ctx := context.Background()

	db, err := sqlite.New(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "test.sqlite")})
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { db.Close() })

	repo, err := image_generations.NewRepository(&image_generations.Config{DB: db})
	if err != nil {
		t.Fatal(err)
	}

	scanner, err := New(Config{Repo: repo, Channels: channels, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}

	return scanner
}

// pngWithParameters encodes a 1x1 png carrying a tEXt parameters chunk.
func pngWithParameters(t *testing.T, parameters string) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}

	data := append([]byte("parameters\x00"), parameters...)

	chunk := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	chunk = append(chunk, "tEXt"...)
	chunk = append(chunk, data...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(append([]byte("tEXt"), data...)))

	const ihdrEnd = 8 + 8 + 13 + 4

	encoded := buf.Bytes()
	out := append([]byte(nil), encoded[:ihdrEnd]...)
	out = append(out, chunk...)

	return append(out, encoded[ihdrEnd:]...)
}

func TestEnabled(t *testing.T) {
	scanner := newTestScanner(t, "gallery")

	if !scanner.Enabled("gallery") {
		t.Error("gallery should be indexed")
	}

	if scanner.Enabled("general") {
		t.Error("general should not be indexed")
	}
}

func TestRegisterAndLookup(t *testing.T) {
	scanner := newTestScanner(t, "gallery")
	ctx := context.Background()

	info := "a cat\nNegative prompt: blurry\nSteps: 24, Seed: 1234"

	err := scanner.Register(ctx, &entities.ImageRecord{
		MessageID:  "m1",
		ChannelID:  "gallery",
		Prompt:     "a cat",
		Seed:       1234,
		InfoString: info,
		Extension:  "png",
	}, nil)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	scan, err := scanner.Lookup(ctx, "m1")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}

	if scan.Parameters != info || scan.Record.Seed != 1234 {
		t.Errorf("scan = %+v", scan)
	}
}

func TestLookupFallsBackToPNGText(t *testing.T) {
	scanner := newTestScanner(t, "gallery")
	ctx := context.Background()

	params := "a dog\nSteps: 20, Seed: 7"

	err := scanner.Register(ctx, &entities.ImageRecord{MessageID: "m2", Extension: "png"}, pngWithParameters(t, params))
	if err != nil {
		t.Fatal(err)
	}

	scan, err := scanner.Lookup(ctx, "m2")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}

	if scan.Parameters != params {
		t.Errorf("parameters = %q, want %q", scan.Parameters, params)
	}
}

func TestLookupUnknown(t *testing.T) {
	scanner := newTestScanner(t)

	if _, err := scanner.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotIndexed) {
		t.Errorf("got %v, want ErrNotIndexed", err)
	}

	if err := scanner.Register(context.Background(), &entities.ImageRecord{}, nil); err == nil {
		t.Error("expected an error without a message ID")
	}
}
