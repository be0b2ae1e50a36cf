// Package tesseract is the local OCR backend, driving libtesseract through
// gosseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/medrec/medrec/internal/ocr"
	"github.com/medrec/medrec/internal/ocr/preprocess"
)

// client is the subset of *gosseract.Client the engine uses.
type client interface {
	SetImageFromBytes(data []byte) error
	SetLanguage(langs ...string) error
	Text() (string, error)
	Close() error
}

// Engine implements ocr.Backend. A new client is created per call since
// gosseract clients must not be shared between goroutines.
type Engine struct {
	newClient func() client
	languages []string
	prep      preprocess.Options
}

func New(languages []string, prep preprocess.Options) *Engine {
	return &Engine{
		newClient: func() client { return gosseract.NewClient() },
		languages: languages,
		prep:      prep,
	}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Extract(ctx context.Context, img *ocr.Image) (ocr.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Extraction{}, err
	}

	data, err := preprocess.EncodePNG(preprocess.Apply(img.Raster, e.prep))
	if err != nil {
		return ocr.Extraction{}, err
	}

	c := e.newClient()
	defer c.Close()

	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return ocr.Extraction{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return ocr.Extraction{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Extraction{}, fmt.Errorf("recognize text: %w", err)
	}
	return ocr.Extraction{Text: strings.TrimSpace(text)}, nil
}
