// Package vips реализует imaging.Processor поверх libvips (h2non/bimg)
package vips

import (
	"fmt"

	"github.com/h2non/bimg"

	"appmarket/internal/imaging"
)

const jpegQuality = 85

type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

func (p *Processor) Inspect(data []byte) (imaging.Info, error) {
	image := bimg.NewImage(data)

	format := image.Type()
	if format == "" || format == "unknown" {
		return imaging.Info{}, imaging.ErrUnsupportedImage
	}

	size, err := image.Size()
	if err != nil {
		return imaging.Info{}, fmt.Errorf("%w: %v", imaging.ErrUnsupportedImage, err)
	}

	return imaging.Info{
		Format: format,
		Width:  size.Width,
		Height: size.Height,
	}, nil
}

// Thumbnail уменьшает изображение с сохранением пропорций и перекодирует в JPEG
func (p *Processor) Thumbnail(data []byte, maxSide int) ([]byte, error) {
	image := bimg.NewImage(data)

	size, err := image.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to get image size: %w", err)
	}

	width, height := imaging.FitWithin(size.Width, size.Height, maxSide)

	processed, err := image.Process(bimg.Options{
		Width:   width,
		Height:  height,
		Quality: jpegQuality,
		Type:    bimg.JPEG,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}

	return processed, nil
}

var _ imaging.Processor = (*Processor)(nil)
