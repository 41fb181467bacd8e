package image_format

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	info, err := p.Inspect(encodePNG(t, 64, 32))
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}

	if info.Format != "png" || info.Width != 64 || info.Height != 32 || info.Pixels() != 2048 {
		t.Errorf("info = %+v", info)
	}

	jpg := &bytes.Buffer{}
	if err := jpeg.Encode(jpg, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}

	info, err = p.Inspect(jpg.Bytes())
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}

	if info.Extension() != "jpg" {
		t.Errorf("extension = %s", info.Extension())
	}
}

func TestInspectErrors(t *testing.T) {
	p, _ := New(Config{})

	if _, err := p.Inspect(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("got %v, want ErrEmptyImage", err)
	}

	if _, err := p.Inspect([]byte("definitely not an image")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestResize(t *testing.T) {
	p, _ := New(Config{MaxPixels: 256 * 256})

	resized, err := p.Resize(encodePNG(t, 64, 32), 128, 64)
	if err != nil {
		t.Fatalf("Resize() error: %v", err)
	}

	info, err := p.Inspect(resized)
	if err != nil {
		t.Fatal(err)
	}

	if info.Width != 128 || info.Height != 64 {
		t.Errorf("resized to %dx%d", info.Width, info.Height)
	}

	if _, err := p.Resize(encodePNG(t, 64, 32), 512, 512); err == nil {
		t.Error("expected resizing over the pixel budget to fail")
	}
}
