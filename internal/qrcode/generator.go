package qrcode

import (
	"encoding/base64"
	"errors"
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// Generator produces QR images for profile URLs.
type Generator interface {
	// DataURL renders the text as a base64 PNG data URL suitable for
	// embedding in documents and emails.
	DataURL(text string) (string, error)
	// PNG renders the text as raw PNG bytes.
	PNG(text string) ([]byte, error)
}

// ImageGenerator implements Generator with medium error correction, which
// keeps codes scannable on scuffed medical tags.
type ImageGenerator struct {
	size  int
	level qr.RecoveryLevel
}

// NewImageGenerator returns a generator producing size x size pixel images.
// A non-positive size falls back to 256.
func NewImageGenerator(size int) *ImageGenerator {
	if size <= 0 {
		size = defaultSize
	}
	return &ImageGenerator{size: size, level: qr.Medium}
}

func (g *ImageGenerator) PNG(text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("qrcode: text is required")
	}
	png, err := qr.Encode(text, g.level, g.size)
	if err != nil {
		return nil, fmt.Errorf("qrcode: encode: %w", err)
	}
	return png, nil
}

func (g *ImageGenerator) DataURL(text string) (string, error) {
	png, err := g.PNG(text)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
