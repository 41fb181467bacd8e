package image_format

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyImage        = errors.New("empty image data")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

type Info struct {
	Format string
	Width  int
	Height int
}

// Pixels is the image area.
func (i *Info) Pixels() int {
	return i.Width * i.Height
}

// Extension is the file extension matching the format.
func (i *Info) Extension() string {
	if i.Format == "jpeg" {
		return "jpg"
	}

	return i.Format
}

type processorImpl struct {
	maxPixels int
}

type Config struct {
	// MaxPixels rejects larger images before decoding them. Zero means no limit.
	MaxPixels int
}

func New(cfg Config) (Processor, error) {
	if cfg.MaxPixels < 0 {
		return nil, errors.New("max pixels must not be negative")
	}

	return &processorImpl{maxPixels: cfg.MaxPixels}, nil
}

func (p *processorImpl) Inspect(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedFormat
		}

		return nil, fmt.Errorf("reading image header: %w", err)
	}

	return &Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func (p *processorImpl) Resize(data []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", width, height)
	}

	info, err := p.Inspect(data)
	if err != nil {
		return nil, err
	}

	if p.maxPixels > 0 && (info.Pixels() > p.maxPixels || width*height > p.maxPixels) {
		return nil, fmt.Errorf("image exceeds %d pixels", p.maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	out := new(bytes.Buffer)

	err = png.Encode(out, dst)
	if err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}
