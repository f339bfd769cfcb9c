// Package ocr recognizes text on PDF pages that have no embedded text layer.
// Pages are rasterized by a Renderer and read by a Recognizer.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Engine names selectable through configuration.
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
)

// Renderer rasterizes every page of a PDF into PNG images, in page order.
type Renderer interface {
	Available() bool
	Render(ctx context.Context, pdf []byte) ([][]byte, error)
}

// Recognizer turns one page image into text.
type Recognizer interface {
	Available() bool
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Engine combines a renderer and a recognizer.
type Engine struct {
	Renderer   Renderer
	Recognizer Recognizer
}

// Available reports whether both halves of the engine can run here.
func (e *Engine) Available() bool {
	return e != nil && e.Renderer != nil && e.Recognizer != nil && e.Renderer.Available() && e.Recognizer.Available()
}

// Pages renders pdf and recognizes each page. The result has one entry per
// rendered page, in page order.
func (e *Engine) Pages(ctx context.Context, pdf []byte) ([]string, error) {
	images, err := e.Renderer.Render(ctx, pdf)
	if err != nil {
		return nil, fmt.Errorf("render pages: %w", err)
	}
	out := make([]string, 0, len(images))
	for i, img := range images {
		text, err := e.Recognizer.Recognize(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("recognize page %d: %w", i+1, err)
		}
		log.Debug().Int("page", i+1).Int("chars", len(text)).Msg("page recognized")
		out = append(out, strings.TrimSpace(text))
	}
	return out, nil
}
